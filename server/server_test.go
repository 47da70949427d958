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

package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/taskvisor/taskvisor"
)

func TestServer(t *testing.T) {
	Convey("The network server", t, func() {
		s := New("taskvisord", zerolog.Nop())
		srv := httptest.NewServer(s)
		Reset(func() {
			srv.Close()
		})

		Convey("Reports health", func() {
			res, e := http.Get(srv.URL + "/health")
			So(e, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)
			v := map[string]string{}
			So(json.NewDecoder(res.Body).Decode(&v), ShouldBeNil)
			So(v["status"], ShouldEqual, "ok")
		})

		Convey("Describes itself", func() {
			res, e := http.Get(srv.URL + "/info")
			So(e, ShouldBeNil)
			defer res.Body.Close()
			info := &Info{}
			So(json.NewDecoder(res.Body).Decode(info), ShouldBeNil)
			So(info.ID, ShouldEqual, s.ID())
			So(info.Name, ShouldEqual, "taskvisord")
			So(info.Pid, ShouldEqual, os.Getpid())
		})

		Convey("Has a fresh id each time", func() {
			So(New("x", zerolog.Nop()).ID(), ShouldNotEqual, s.ID())
		})

		Convey("Knows nothing else", func() {
			res, e := http.Get(srv.URL + "/nosuch")
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Running the server worker", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Convey("Serves until cancelled", func() {
			l, e := net.Listen("tcp", "127.0.0.1:0")
			So(e, ShouldBeNil)
			addr := l.Addr().String()
			l.Close()

			errc := make(chan error, 1)
			go func() {
				errc <- Run(ctx, taskvisor.ServerConfig{Listen: addr}, "test", zerolog.Nop())
			}()
			var res *http.Response
			for i := 0; i < 50; i++ {
				if res, e = http.Get("http://" + addr + "/health"); e == nil {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			So(e, ShouldBeNil)
			res.Body.Close()

			cancel()
			So(<-errc, ShouldBeNil)
		})

		Convey("Or runs an external command", func() {
			errc := make(chan error, 1)
			go func() {
				errc <- Run(ctx, taskvisor.ServerConfig{
					Command: []string{"sleep", "3600"},
				}, "test", zerolog.Nop())
			}()
			time.Sleep(100 * time.Millisecond)
			cancel()
			select {
			case e := <-errc:
				So(e, ShouldBeNil)
			case <-time.After(10 * time.Second):
				So("external server still running", ShouldBeEmpty)
			}
		})

		Convey("And reports a command that fails", func() {
			e := Run(ctx, taskvisor.ServerConfig{
				Command: []string{"false"},
			}, "test", zerolog.Nop())
			So(e, ShouldNotBeNil)
		})
	})
}
