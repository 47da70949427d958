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
	"bytes"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Worker.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// waitDelay bounds how long Wait keeps copying output after the worker
// itself has exited, in case a grandchild is holding the pipe open.
const waitDelay = time.Second

// Worker represents one supervised operating system process.
//
// Only the Supervisor changes the state of a Worker.  The one exception
// is the internal wait goroutine, which records the exit as soon as the
// operating system reports it.
type Worker struct {
	entry    EntryPoint
	daemonic bool
	state    State
	cmd      *exec.Cmd
	files    []*os.File
	logger   zerolog.Logger
	started  time.Time
	reason   error         // why the process exited, if it failed
	exited   chan struct{} // closed when the process has been reaped
	stdout   *outputLog
	stderr   *outputLog

	lock sync.Mutex
}

// outputLog turns a stream of process output into log records, one per
// line.
type outputLog struct {
	logger zerolog.Logger
	buf    []byte
	lock   sync.Mutex
}

func (o *outputLog) Write(b []byte) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.buf = append(o.buf, b...)
	for {
		idx := bytes.IndexByte(o.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			o.logger.Info().Msg(string(o.buf[:idx]))
		}
		o.buf = o.buf[idx+1:]
	}
	return len(b), nil
}

func (o *outputLog) flush() {
	o.lock.Lock()
	if len(o.buf) != 0 {
		o.logger.Info().Msg(string(o.buf))
		o.buf = nil
	}
	o.lock.Unlock()
}

func (w *Worker) Name() string {
	return w.entry.Name
}

func (w *Worker) Role() Role {
	return w.entry.Role
}

// Daemonic reports whether the worker must die with the supervisor.
// Workers are daemonic unless told otherwise.
func (w *Worker) Daemonic() bool {
	return w.daemonic
}

// SetDaemonic must be called before Spawn.
func (w *Worker) SetDaemonic(v bool) {
	w.daemonic = v
}

// SetExtraFiles arranges for files to be inherited by the child,
// starting at descriptor 3.  It must be called before Spawn.
func (w *Worker) SetExtraFiles(files ...*os.File) {
	w.files = append([]*os.File{}, files...)
}

// Pid returns the process ID, or -1 if the worker was never spawned.
func (w *Worker) Pid() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cmd == nil || w.cmd.Process == nil {
		return -1
	}
	return w.cmd.Process.Pid
}

func (w *Worker) State() State {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.state
}

// Started returns the time the process was spawned.
func (w *Worker) Started() time.Time {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.started
}

// Err returns the reason the process exited, if it did not exit
// cleanly.
func (w *Worker) Err() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.reason
}

func (w *Worker) doWait() {
	e := w.cmd.Wait()
	w.stdout.flush()
	w.stderr.flush()

	w.lock.Lock()
	stopping := w.state == StateStopping
	w.state = StateTerminated
	if e != nil && !stopping {
		w.reason = e
		w.logger.Warn().Err(e).Msg("Worker exited")
	} else {
		w.logger.Info().Msg("Worker terminated")
	}
	w.lock.Unlock()
	close(w.exited)
}

// Spawn creates the process.  A worker can be spawned only once; the
// supervisor creates a fresh Worker for every start.
func (w *Worker) Spawn() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.state != StateCreated {
		return ErrAlreadyStarted
	}
	if len(w.entry.Command) == 0 {
		w.state = StateTerminated
		close(w.exited)
		return &SpawnError{Name: w.entry.Name, Err: ErrNoCommand}
	}

	cmd := exec.Command(w.entry.Command[0], w.entry.Command[1:]...)
	cmd.Env = append(os.Environ(), w.entry.Env...)
	cmd.Dir = w.entry.Dir
	cmd.ExtraFiles = w.files
	cmd.SysProcAttr = sysProcAttr(w.daemonic)
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr
	cmd.WaitDelay = waitDelay

	if e := cmd.Start(); e != nil {
		w.state = StateTerminated
		w.reason = e
		close(w.exited)
		return &SpawnError{Name: w.entry.Name, Err: e}
	}
	w.cmd = cmd
	w.started = time.Now()
	w.state = StateRunning
	w.logger = w.logger.With().Int("pid", cmd.Process.Pid).Logger()
	w.logger.Info().Strs("command", w.entry.Command).Msg("Worker started")

	go w.doWait()
	return nil
}

// Alive reports, without blocking, whether the process is still running.
func (w *Worker) Alive() bool {
	if w.State() == StateCreated {
		return false
	}
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// RequestTermination asks the worker to exit by sending SIGTERM to its
// process group.  It does not wait.
func (w *Worker) RequestTermination() error {
	if !w.Alive() {
		return nil
	}
	w.lock.Lock()
	w.state = StateStopping
	pid := w.cmd.Process.Pid
	w.lock.Unlock()

	e := syscall.Kill(-pid, syscall.SIGTERM)
	if e == syscall.ESRCH {
		return nil
	}
	if e != nil {
		w.logger.Warn().Err(e).Msg("Failed sending SIGTERM")
	}
	return e
}

// AwaitExit waits up to d for the process to exit, and reports whether
// it did.  A worker that was never spawned has trivially exited.
func (w *Worker) AwaitExit(d time.Duration) bool {
	if w.State() == StateCreated {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.exited:
		return true
	case <-timer.C:
		return false
	}
}

// ForceKill sends SIGKILL to the worker's process group.
func (w *Worker) ForceKill() error {
	if !w.Alive() {
		return nil
	}
	w.lock.Lock()
	w.state = StateStopping
	pid := w.cmd.Process.Pid
	w.lock.Unlock()

	w.logger.Warn().Msg("Killing worker")
	// The worker leads its own process group.
	e := syscall.Kill(-pid, syscall.SIGKILL)
	if e == syscall.ESRCH {
		return nil
	}
	if e != nil {
		w.logger.Warn().Err(e).Msg("Failed killing")
	}
	return e
}

// Wait blocks until the worker has exited.
func (w *Worker) Wait() {
	if w.State() == StateCreated {
		return
	}
	<-w.exited
}

// NewWorker returns a daemonic Worker for the entry point, not yet
// spawned.  Its output is logged to logger.
func NewWorker(entry EntryPoint, logger zerolog.Logger) *Worker {
	l := logger.With().Str("worker", entry.Name).Str("role", string(entry.Role)).Logger()
	w := &Worker{
		entry:    entry,
		daemonic: true,
		logger:   l,
		exited:   make(chan struct{}),
		stdout:   &outputLog{logger: l.With().Str("stream", "stdout").Logger()},
		stderr:   &outputLog{logger: l.With().Str("stream", "stderr").Logger()},
	}
	return w
}
