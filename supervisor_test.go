// Copyright 2026 The Taskvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux || darwin || freebsd || netbsd || openbsd

package taskvisor

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/tidwall/gjson"

	"github.com/taskvisor/taskvisor/rpc"
)

type fakeBackup struct {
	logger     zerolog.Logger
	lines      []string
	statusErr  error
	restoreErr error
	during     func() // called inside Restore
	restored   []string
	sync.Mutex
}

func (b *fakeBackup) Status(ctx context.Context, userHash string) error {
	for _, l := range b.lines {
		b.logger.Info().Msg(l)
	}
	return b.statusErr
}

func (b *fakeBackup) Restore(ctx context.Context, userHash string, at string) error {
	b.Lock()
	b.restored = append(b.restored, userHash+"@"+at)
	b.Unlock()
	if b.during != nil {
		b.during()
	}
	return b.restoreErr
}

func (b *fakeBackup) Backup(ctx context.Context) error {
	return nil
}

type fakeBridge struct {
	dsn   DSN
	query string
	err   error
}

func (b *fakeBridge) Produce(ctx context.Context, dsn DSN, query string) (string, error) {
	b.dsn = dsn
	b.query = query
	if b.err != nil {
		return "", b.err
	}
	return `{"rows":[1,2]}`, nil
}

type fakeDiscovery struct {
	entries []EntryPoint
	err     error
}

func (d *fakeDiscovery) Discover() ([]EntryPoint, error) {
	return d.entries, d.err
}

var testDatabase = StaticConfig{
	"database.rdbms":      "postgres",
	"database.address":    "db.example",
	"database.port":       "5432",
	"database.dbname":     "stoq",
	"database.dbusername": "admin",
}

func testOptions(t *testing.T) Options {
	return Options{
		Name:  "test",
		Grace: 500 * time.Millisecond,
		Workers: []EntryPoint{{
			Name:    "sleeper",
			Role:    RoleServer,
			Command: testScript("sleep", "3600"),
		}},
		Control: EntryPoint{
			Name:    "control",
			Role:    RoleControl,
			Command: testScript("sleep", "3600"),
		},
		Config:    testDatabase,
		LogWriter: &testLog{t: t},
	}
}

func WithSupervisor(t *testing.T, opts Options, fn func(s *Supervisor)) func() {
	return func() {
		s, e := NewSupervisor(opts)
		So(e, ShouldBeNil)
		So(s, ShouldNotBeNil)
		Reset(func() {
			s.Shutdown()
		})
		fn(s)
	}
}

func alive(s *Supervisor, role Role) int {
	n := 0
	for _, w := range s.Workers() {
		if w.Role == role && w.State == StateRunning.String() {
			n++
		}
	}
	return n
}

// serve runs the supervisor loop and returns a client for its control
// channel, as the control worker would have.
func serve(s *Supervisor) (*rpc.Conn, chan error) {
	c, e := rpc.FromFile(s.remote)
	So(e, ShouldBeNil)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run()
	}()
	Reset(func() {
		c.Close()
	})
	return c, errc
}

func call(c *rpc.Conn, action string, args ...interface{}) *rpc.Response {
	rsp, e := c.Call(&rpc.Request{ID: "req-" + action, Action: action, Args: args})
	So(e, ShouldBeNil)
	So(rsp.ID, ShouldEqual, "req-"+action)
	return rsp
}

func TestSupervisorStartAll(t *testing.T) {
	Convey("Starting workers", t,
		WithSupervisor(t, testOptions(t), func(s *Supervisor) {
			So(s.StartAll(), ShouldBeNil)
			So(alive(s, RoleServer), ShouldEqual, 1)
			So(alive(s, RoleControl), ShouldEqual, 1)

			Convey("Never duplicates the control worker", func() {
				So(s.StartAll(), ShouldBeNil)
				So(alive(s, RoleControl), ShouldEqual, 1)
				So(alive(s, RoleServer), ShouldEqual, 2)
			})

			Convey("Stop keeps the control worker when asked", func() {
				s.Stop(true)
				So(alive(s, RoleControl), ShouldEqual, 1)
				So(alive(s, RoleServer), ShouldEqual, 0)

				So(s.StartAll(), ShouldBeNil)
				So(alive(s, RoleControl), ShouldEqual, 1)
				So(alive(s, RoleServer), ShouldEqual, 1)
			})

			Convey("Stop stops everything", func() {
				s.Stop(false)
				So(alive(s, RoleControl), ShouldEqual, 0)
				So(alive(s, RoleServer), ShouldEqual, 0)

				Convey("And is idempotent", func() {
					s.Stop(false)
					s.Stop(true)
					So(alive(s, RoleControl), ShouldEqual, 0)
				})

				Convey("And a new control worker starts", func() {
					So(s.StartAll(), ShouldBeNil)
					So(alive(s, RoleControl), ShouldEqual, 1)
					// Exited workers are dropped from the table.
					So(len(s.Workers()), ShouldEqual, 2)
				})
			})
		}))
}

func TestSupervisorStubborn(t *testing.T) {
	opts := testOptions(t)
	opts.Grace = 300 * time.Millisecond
	opts.Workers = append(opts.Workers, EntryPoint{
		Name:    "stubborn",
		Role:    RolePlugin,
		Command: testScript("stubborn"),
	})
	Convey("A worker that ignores SIGTERM", t,
		WithSupervisor(t, opts, func(s *Supervisor) {
			So(s.StartAll(), ShouldBeNil)
			time.Sleep(200 * time.Millisecond)

			start := time.Now()
			s.Stop(false)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, opts.Grace)
			So(time.Since(start), ShouldBeLessThan, opts.Grace+time.Second)
			for _, w := range s.Workers() {
				So(w.State, ShouldEqual, StateTerminated.String())
			}
		}))
}

func TestSupervisorSpawnFailure(t *testing.T) {
	opts := testOptions(t)
	opts.Workers = append(opts.Workers, EntryPoint{Name: "broken"})
	Convey("A worker that cannot be spawned", t,
		WithSupervisor(t, opts, func(s *Supervisor) {
			e := s.StartAll()
			So(e, ShouldNotBeNil)
			var se *SpawnError
			So(errors.As(e, &se), ShouldBeTrue)
			So(se.Name, ShouldEqual, "broken")
		}))
}

func TestSupervisorDiscovery(t *testing.T) {
	opts := testOptions(t)
	opts.Discovery = &fakeDiscovery{
		entries: []EntryPoint{{
			Name:    "plugin:task",
			Role:    RolePlugin,
			Command: testScript("sleep", "3600"),
		}},
		err: errors.New("one plugin is broken"),
	}
	Convey("Discovered workers are started", t,
		WithSupervisor(t, opts, func(s *Supervisor) {
			So(s.StartAll(), ShouldBeNil)
			So(alive(s, RolePlugin), ShouldEqual, 1)
			So(alive(s, RoleServer), ShouldEqual, 1)
		}))
}

func TestSupervisorControlRole(t *testing.T) {
	Convey("Only the configured control worker takes the control role", t, func() {
		Convey("Discovered control workers are ignored", WithSupervisor(t, func() Options {
			opts := testOptions(t)
			opts.Discovery = &fakeDiscovery{
				entries: []EntryPoint{{
					Name:    "plugin:impostor",
					Role:    RoleControl,
					Command: testScript("sleep", "3600"),
				}},
			}
			return opts
		}(), func(s *Supervisor) {
			So(s.StartAll(), ShouldBeNil)
			So(alive(s, RoleControl), ShouldEqual, 1)
			So(s.StartAll(), ShouldBeNil)
			So(alive(s, RoleControl), ShouldEqual, 1)
			for _, w := range s.Workers() {
				So(w.Name, ShouldNotEqual, "plugin:impostor")
			}
		}))

		Convey("Fixed control workers are refused", func() {
			opts := testOptions(t)
			opts.Workers = append(opts.Workers, EntryPoint{
				Name:    "second-control",
				Role:    RoleControl,
				Command: testScript("sleep", "3600"),
			})
			s, e := NewSupervisor(opts)
			So(s, ShouldBeNil)
			So(errors.Is(e, ErrControlRole), ShouldBeTrue)
		})

		Convey("The control entry is always tagged", WithSupervisor(t, func() Options {
			opts := testOptions(t)
			opts.Control.Role = RoleServer
			return opts
		}(), func(s *Supervisor) {
			So(s.StartAll(), ShouldBeNil)
			So(s.StartAll(), ShouldBeNil)
			So(alive(s, RoleControl), ShouldEqual, 1)
			// Only the fixed sleeper carries the server role.
			So(alive(s, RoleServer), ShouldEqual, 2)
		}))
	})
}

func TestSupervisorActions(t *testing.T) {
	opts := testOptions(t)
	backupLog := NewMultiLogger("backup")
	backup := &fakeBackup{logger: backupLog.Logger()}
	bridge := &fakeBridge{}
	opts.Backup = backup
	opts.BackupLog = backupLog
	opts.Bridge = bridge

	Convey("Serving the control channel", t,
		WithSupervisor(t, opts, func(s *Supervisor) {
			c, errc := serve(s)

			Convey("backup_status returns the captured log", func() {
				backup.lines = []string{"a", "b"}
				backup.statusErr = nil
				rsp := call(c, ActionBackupStatus)
				So(rsp.Success, ShouldBeTrue)
				So(rsp.Payload, ShouldEqual, "a\nb\n")
			})

			Convey("backup_status reports failures", func() {
				backup.lines = nil
				backup.statusErr = errors.New("disk full")
				rsp := call(c, ActionBackupStatus)
				So(rsp.Success, ShouldBeFalse)
				So(rsp.Payload, ShouldEqual, "disk full")
			})

			Convey("htsql_query goes through the bridge", func() {
				rsp := call(c, ActionQuery, "/sale")
				So(rsp.Success, ShouldBeTrue)
				So(rsp.Payload, ShouldEqual, `{"rows":[1,2]}`)
				So(bridge.query, ShouldEqual, "/sale")
				So(bridge.dsn.URI(), ShouldEqual, "pgsql://admin@db.example:5432/stoq")

				Convey("Also as query", func() {
					rsp := call(c, ActionQueryAlias, "/client")
					So(rsp.Success, ShouldBeTrue)
					So(bridge.query, ShouldEqual, "/client")
				})
			})

			Convey("htsql_query reports bridge errors", func() {
				bridge.err = &BridgeError{
					Query:   "/sale",
					Message: "could not connect to server: Connection refused",
				}
				Reset(func() { bridge.err = nil })
				rsp := call(c, ActionQuery, "/sale")
				So(rsp.Success, ShouldBeFalse)
				So(rsp.Payload, ShouldEqual, "could not connect to server: Connection refused")
			})

			Convey("htsql_query needs its argument", func() {
				rsp := call(c, ActionQuery)
				So(rsp.Success, ShouldBeFalse)
				So(rsp.Payload, ShouldContainSubstring, "required")
			})

			Convey("status lists the workers", func() {
				rsp := call(c, ActionStatus)
				So(rsp.Success, ShouldBeTrue)
				So(gjson.Get(rsp.Payload, "name").String(), ShouldEqual, "test")
				So(gjson.Get(rsp.Payload, "workers.#").Int(), ShouldEqual, 2)
				So(gjson.Get(rsp.Payload, `workers.#(role=="control").state`).String(),
					ShouldEqual, "running")
			})

			Convey("log returns the supervisor log", func() {
				rsp := call(c, ActionLog)
				So(rsp.Success, ShouldBeTrue)
				So(gjson.Get(rsp.Payload, "records.#").Int(), ShouldBeGreaterThan, 0)
				id := gjson.Get(rsp.Payload, "id").Int()
				So(id, ShouldBeGreaterThan, 0)

				Convey("And nothing when given the last id as a number", func() {
					rsp := call(c, ActionLog, json.Number(strconv.FormatInt(id, 10)))
					So(rsp.Success, ShouldBeTrue)
					So(gjson.Get(rsp.Payload, "id").Int(), ShouldEqual, id)
					So(gjson.Get(rsp.Payload, "records").Type, ShouldEqual, gjson.Null)
				})
			})

			Convey("backup_restore restarts the workers", func() {
				var during []WorkerInfo
				backup.during = func() {
					during = s.workers()
				}
				Reset(func() {
					backup.during = nil
					backup.restoreErr = nil
				})

				Convey("On success", func() {
					rsp := call(c, ActionBackupRestore, "hash", "2026-01-01")
					So(rsp.Success, ShouldBeTrue)
					So(rsp.Payload, ShouldEqual, "Restore finished")
				})
				Convey("And on failure", func() {
					backup.restoreErr = errors.New("no such backup")
					rsp := call(c, ActionBackupRestore, "hash")
					So(rsp.Success, ShouldBeFalse)
					So(rsp.Payload, ShouldEqual, "no such backup")
				})

				// Only the control worker ran during the restore.
				for _, w := range during {
					if w.State == StateRunning.String() {
						So(w.Role, ShouldEqual, RoleControl)
					}
				}
				So(alive(s, RoleServer), ShouldEqual, 1)
				So(alive(s, RoleControl), ShouldEqual, 1)
			})

			Convey("An unknown action ends the loop without a reply", func() {
				So(c.SendRequest(&rpc.Request{ID: "x", Action: "frobnicate"}), ShouldBeNil)
				e := <-errc
				So(errors.Is(e, ErrUnknownAction), ShouldBeTrue)

				s.Shutdown()
				_, e = c.ReceiveResponse()
				So(e, ShouldEqual, rpc.ErrClosed)
			})
		}))
}

func TestSupervisorRestart(t *testing.T) {
	Convey("Restart replaces the process", t, func() {
		var argv0 string
		var argv []string
		opts := testOptions(t)
		opts.Argv = []string{"taskvisord", "-c", "/etc/taskvisor.toml"}

		Convey("Without a reply", WithSupervisor(t, opts, func(s *Supervisor) {
			s.exec = func(path string, args []string, env []string) error {
				argv0 = path
				argv = args
				return nil
			}
			c, errc := serve(s)
			So(c.SendRequest(&rpc.Request{ID: "r", Action: ActionRestart}), ShouldBeNil)
			So(<-errc, ShouldBeNil)
			So(argv0, ShouldNotBeEmpty)
			So(argv, ShouldResemble, opts.Argv)
			So(alive(s, RoleControl), ShouldEqual, 0)
			So(alive(s, RoleServer), ShouldEqual, 0)
		}))

		Convey("A failed exec is fatal", WithSupervisor(t, opts, func(s *Supervisor) {
			s.exec = func(string, []string, []string) error {
				return errors.New("exec failed")
			}
			c, errc := serve(s)
			So(c.SendRequest(&rpc.Request{ID: "r", Action: ActionRestart}), ShouldBeNil)
			e := <-errc
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldEqual, "exec failed")
		}))
	})
}

func TestSupervisorShutdown(t *testing.T) {
	Convey("Shutdown closes the control channel", t,
		WithSupervisor(t, testOptions(t), func(s *Supervisor) {
			c, errc := serve(s)
			rsp := call(c, ActionStatus)
			So(rsp.Success, ShouldBeTrue)

			s.Shutdown()
			So(<-errc, ShouldEqual, rpc.ErrClosed)
			So(alive(s, RoleControl), ShouldEqual, 0)
			So(alive(s, RoleServer), ShouldEqual, 0)
		}))
}

func TestKnownActions(t *testing.T) {
	Convey("Known actions", t, func() {
		So(KnownActions(), ShouldResemble, []string{
			"backup_restore", "backup_status", "htsql_query",
			"log", "query", "restart", "status",
		})
	})
}
