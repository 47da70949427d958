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

package taskvisor

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskvisor/taskvisor/rpc"
)

// killWait bounds the wait for a worker to be reaped after SIGKILL.
const killWait = 5 * time.Second

// Options configure a Supervisor.
type Options struct {
	Name      string
	Grace     time.Duration // zero means DefaultGrace
	Workers   []EntryPoint  // started on every StartAll
	Control   EntryPoint    // the control-plane worker
	Discovery TaskDiscovery // optional
	Config    ConfigSource  // read by the query action
	Bridge    QueryBridge
	Backup    Backup
	BackupLog *MultiLogger // where Backup logs; captured by backup actions
	LogWriter io.Writer    // optional extra destination for our own log

	// Argv and Exec are used by the restart action to replace the
	// process image.  They default to os.Args and syscall.Exec.
	Argv []string
	Exec func(argv0 string, argv []string, envv []string) error
}

// WorkerInfo is a snapshot of one row of the process table.
type WorkerInfo struct {
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	Pid      int       `json:"pid"`
	State    string    `json:"state"`
	Daemonic bool      `json:"daemonic"`
	Started  time.Time `json:"started"`
	Error    string    `json:"error,omitempty"`
}

// Supervisor owns the worker processes and the supervisor end of the
// control channel.
//
// The control loop is sequential: one request is read, handled, and
// answered before the next is read, and a handler may take as long as it
// likes.  The lock only keeps Shutdown, which is driven by a signal,
// from running in the middle of a handler.
type Supervisor struct {
	name      string
	grace     time.Duration
	fixed     []EntryPoint
	control   EntryPoint
	children  []*Worker
	conn      *rpc.Conn
	remote    *os.File
	discovery TaskDiscovery
	config    ConfigSource
	bridge    QueryBridge
	backup    Backup
	backupLog *MultiLogger
	registry  *Registry
	mlog      *MultiLogger
	log       *Log
	logger    zerolog.Logger
	exe       string
	argv      []string
	exec      func(string, []string, []string) error
	created   time.Time
	replaced  bool  // restart succeeded; nothing more to do
	fatal     error // a handler hit an unrecoverable error
	mx        sync.Mutex
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

// Name returns the name the supervisor was created with.
func (s *Supervisor) Name() string {
	return s.name
}

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() zerolog.Logger {
	return s.logger
}

// Log returns the in-memory log of recent supervisor records.
func (s *Supervisor) Log() *Log {
	return s.log
}

// Actions returns the names of the actions the supervisor handles.
func (s *Supervisor) Actions() []string {
	return s.registry.Names()
}

func (s *Supervisor) controlAlive() bool {
	for _, w := range s.children {
		if w.Role() == RoleControl && w.Alive() {
			return true
		}
	}
	return false
}

// reap drops exited workers from the table.
func (s *Supervisor) reap() {
	live := s.children[:0]
	for _, w := range s.children {
		if w.State() != StateTerminated {
			live = append(live, w)
		}
	}
	for i := len(live); i < len(s.children); i++ {
		s.children[i] = nil
	}
	s.children = live
}

func (s *Supervisor) spawn(ep EntryPoint) error {
	w := NewWorker(ep, s.logger)
	if ep.Role == RoleControl {
		w.SetExtraFiles(s.remote)
	}
	if e := w.Spawn(); e != nil {
		s.logger.Error().Err(e).Str("worker", ep.Name).Msg("Failed to start worker")
		return e
	}
	s.children = append(s.children, w)
	return nil
}

func (s *Supervisor) startAll() error {
	s.reap()

	entries := append([]EntryPoint{}, s.fixed...)
	if s.discovery != nil {
		tasks, e := s.discovery.Discover()
		if e != nil {
			s.logger.Warn().Err(e).Msg("Plugin discovery incomplete")
		}
		for _, ep := range tasks {
			if ep.Role == RoleControl {
				s.logger.Warn().Str("worker", ep.Name).Msg("Ignoring discovered control worker")
				continue
			}
			entries = append(entries, ep)
		}
	}

	for _, ep := range entries {
		if e := s.spawn(ep); e != nil {
			return e
		}
	}
	if s.controlAlive() {
		s.logger.Debug().Msg("Control worker already running")
		return nil
	}
	return s.spawn(s.control)
}

// StartAll starts the fixed workers, every worker the discovery offers,
// and the control worker unless one is already alive.  Discovered
// entries claiming the control role are ignored.  A worker that
// cannot be spawned aborts the start and the error is returned.
func (s *Supervisor) StartAll() error {
	s.lock()
	defer s.unlock()
	return s.startAll()
}

func (s *Supervisor) stop(preserveControl bool) {
	for _, w := range s.children {
		if preserveControl && w.Role() == RoleControl {
			continue
		}
		if !w.Alive() {
			continue
		}
		s.logger.Info().Str("worker", w.Name()).Msg("Stopping worker")
		w.RequestTermination()
		if !w.AwaitExit(s.grace) {
			s.logger.Warn().Str("worker", w.Name()).Msg("Graceful shutdown timed out")
			w.ForceKill()
			if !w.AwaitExit(killWait) {
				s.logger.Error().Str("worker", w.Name()).Msg("Worker survived SIGKILL")
			}
		}
	}
}

// Stop stops every live worker, except the control worker when
// preserveControl is set.  Each worker is sent SIGTERM and given the
// grace period to exit before it is killed.  Workers that have already
// exited are skipped, so Stop may be called any number of times.
func (s *Supervisor) Stop(preserveControl bool) {
	s.lock()
	defer s.unlock()
	s.stop(preserveControl)
}

func (s *Supervisor) workers() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(s.children))
	for _, w := range s.children {
		info := WorkerInfo{
			Name:     w.Name(),
			Role:     w.Role(),
			Pid:      w.Pid(),
			State:    w.State().String(),
			Daemonic: w.Daemonic(),
			Started:  w.Started(),
		}
		if e := w.Err(); e != nil {
			info.Error = e.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

// Workers returns a snapshot of the process table, in start order.
func (s *Supervisor) Workers() []WorkerInfo {
	s.lock()
	defer s.unlock()
	return s.workers()
}

func (s *Supervisor) handle(req *rpc.Request) (*rpc.Response, error) {
	s.lock()
	defer s.unlock()

	logger := s.logger.With().Str("action", req.Action).Str("id", req.ID).Logger()
	// Status and log are polled; logging them would keep the log moving.
	if req.Action != ActionStatus && req.Action != ActionLog {
		logger.Info().Int("args", len(req.Args)).Msg("Action requested")
	}

	ok, payload, e := s.registry.Dispatch(req.Action, Args(req.Args))
	if e != nil {
		logger.Error().Err(e).Msg("Cannot dispatch action")
		return nil, e
	}
	if s.fatal != nil {
		return nil, s.fatal
	}
	if s.replaced {
		return nil, nil
	}
	if !ok {
		logger.Warn().Str("error", payload).Msg("Action failed")
	}
	return &rpc.Response{ID: req.ID, Success: ok, Payload: payload}, nil
}

// Run starts the workers and then serves the control channel until the
// process is replaced by a restart, the channel fails, or a request
// names an action we do not have.  The last case is a protocol error
// and ends the loop with an error wrapping ErrUnknownAction.
func (s *Supervisor) Run() error {
	s.logger.Info().Msg("Supervisor starting")
	if e := s.StartAll(); e != nil {
		return e
	}
	for {
		req, e := s.conn.ReceiveRequest()
		if e != nil {
			return e
		}
		rsp, e := s.handle(req)
		if e != nil {
			return e
		}
		if rsp == nil {
			// The process image was replaced.
			return nil
		}
		if e := s.conn.SendResponse(rsp); e != nil {
			return e
		}
	}
}

// Shutdown stops every worker, the control worker included, and closes
// the control channel.  It waits for any action in progress to finish.
func (s *Supervisor) Shutdown() {
	s.lock()
	defer s.unlock()
	s.logger.Info().Msg("Supervisor shutting down")
	s.stop(false)
	s.conn.Close()
	s.remote.Close()
}

// NewSupervisor creates the control channel and a supervisor around it.
// No workers are started until StartAll or Run.
func NewSupervisor(opts Options) (*Supervisor, error) {
	for _, ep := range opts.Workers {
		if ep.Role == RoleControl {
			return nil, fmt.Errorf("%w: %s", ErrControlRole, ep.Name)
		}
	}
	conn, remote, e := rpc.Pair()
	if e != nil {
		return nil, e
	}
	s := &Supervisor{
		name:      opts.Name,
		grace:     opts.Grace,
		fixed:     append([]EntryPoint{}, opts.Workers...),
		control:   opts.Control,
		conn:      conn,
		remote:    remote,
		discovery: opts.Discovery,
		config:    opts.Config,
		bridge:    opts.Bridge,
		backup:    opts.Backup,
		backupLog: opts.BackupLog,
		argv:      opts.Argv,
		exec:      opts.Exec,
		created:   time.Now(),
	}
	if s.name == "" {
		s.name = "taskvisord"
	}
	if s.grace <= 0 {
		s.grace = DefaultGrace
	}
	s.control.Role = RoleControl
	if s.control.Name == "" {
		s.control.Name = string(RoleControl)
	}
	if s.argv == nil {
		s.argv = os.Args
	}
	if s.exec == nil {
		s.exec = syscall.Exec
	}
	if s.exe, e = os.Executable(); e != nil {
		s.exe = s.argv[0]
	}
	if s.backupLog == nil {
		s.backupLog = NewMultiLogger("backup")
	}

	s.log = NewLog(MaxLogRecords)
	s.mlog = NewMultiLogger(s.name)
	s.mlog.AddWriter(s.log)
	if opts.LogWriter != nil {
		s.mlog.AddWriter(opts.LogWriter)
	}
	s.logger = NewLogger(s.name, s.mlog)
	s.backupLog.AddWriter(s.mlog)

	s.registry = NewRegistry(s.handlers())
	return s, nil
}
