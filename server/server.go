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

// Package server is the built-in network-server worker.  By default it
// is a small HTTP service; a configured command replaces it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskvisor/taskvisor"
)

// Server is the HTTP service.  Each instance has a fresh id, so a
// client can tell when the worker has been restarted.
type Server struct {
	id      uuid.UUID
	name    string
	started time.Time
	logger  zerolog.Logger
	r       chi.Router
}

func (s *Server) writeJson(w http.ResponseWriter, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Write(b)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, map[string]string{"status": "ok"})
}

// Info describes a running Server.
type Info struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Pid     int       `json:"pid"`
	Started time.Time `json:"started"`
	Uptime  string    `json:"uptime"`
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, &Info{
		ID:      s.id.String(),
		Name:    s.name,
		Pid:     os.Getpid(),
		Started: s.started,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// ID returns the instance id.
func (s *Server) ID() string {
	return s.id.String()
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()
	s.logger.Info().Str("addr", l.Addr().String()).Str("id", s.ID()).Msg("Serving")
	select {
	case e := <-errc:
		return e
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// New returns a Server.
func New(name string, logger zerolog.Logger) *Server {
	s := &Server{
		id:      uuid.New(),
		name:    name,
		started: time.Now(),
		logger:  logger,
		r:       chi.NewRouter(),
	}
	s.r.Get("/health", s.health)
	s.r.Get("/info", s.info)
	return s
}

// runCommand runs an external server until it exits or ctx is done, in
// which case it is sent SIGTERM.
func runCommand(ctx context.Context, argv []string, logger zerolog.Logger) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = taskvisor.DefaultGrace
	logger.Info().Strs("command", argv).Msg("Running external server")
	e := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	return e
}

// Run is the body of the server worker.
func Run(ctx context.Context, cfg taskvisor.ServerConfig, name string, logger zerolog.Logger) error {
	if len(cfg.Command) != 0 {
		return runCommand(ctx, cfg.Command, logger)
	}
	l, e := net.Listen("tcp", cfg.Listen)
	if e != nil {
		return e
	}
	e = New(name, logger).Serve(ctx, l)
	if errors.Is(e, http.ErrServerClosed) {
		return nil
	}
	return e
}
