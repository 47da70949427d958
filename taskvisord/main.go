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

// Command taskvisord is the supervisor daemon.  Run without -worker it
// supervises; the built-in workers are copies of it run with -worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/taskvisor/taskvisor"
	"github.com/taskvisor/taskvisor/control"
	"github.com/taskvisor/taskvisor/rpc"
	"github.com/taskvisor/taskvisor/scheduler"
	"github.com/taskvisor/taskvisor/server"
)

var cfgPath string = ""
var name string = ""
var worker string = ""

// controlFd is where the control worker finds its end of the channel.
const controlFd = 3

func workerLogger() zerolog.Logger {
	// The supervisor timestamps and labels our output.
	w := zerolog.ConsoleWriter{
		Out:          os.Stderr,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	return zerolog.New(w)
}

func runWorker(cfg *taskvisor.Config) error {
	logger := workerLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch taskvisor.Role(worker) {
	case taskvisor.RoleControl:
		conn, e := rpc.FromFile(os.NewFile(controlFd, "control"))
		if e != nil {
			return fmt.Errorf("control channel: %w", e)
		}
		defer conn.Close()
		l, e := net.Listen("tcp", cfg.Control.Listen)
		if e != nil {
			return e
		}
		logger.Info().Str("addr", l.Addr().String()).Msg("Control listening")
		h := control.NewHandler(conn, control.Options{
			User:         cfg.Control.User,
			PasswordHash: cfg.Control.PasswordHash,
			Logger:       logger,
		})
		return control.Serve(ctx, l, h, cfg.Control.MaxConns)

	case taskvisor.RoleServer:
		return server.Run(ctx, cfg.Server, cfg.Name, logger)

	case taskvisor.RoleBackupScheduler:
		b := taskvisor.NewDuplicity(cfg.Backup, logger)
		return scheduler.New(b, cfg.Backup.Interval, logger).Run(ctx)
	}
	return fmt.Errorf("unknown worker role %q", worker)
}

// selfArgs are the flags every re-executed worker gets.
func selfArgs() []string {
	var args []string
	if cfgPath != "" {
		args = append(args, "-c", cfgPath)
	}
	if name != "" {
		args = append(args, "-n", name)
	}
	return args
}

func runSupervisor(cfg *taskvisor.Config) error {
	console := taskvisor.NewConsoleWriter(os.Stderr)
	logger := taskvisor.NewLogger(cfg.Name, console)

	exe, e := os.Executable()
	if e != nil {
		return e
	}
	args := selfArgs()

	var fixed []taskvisor.EntryPoint
	if cfg.Backup.Target != "" {
		fixed = append(fixed, taskvisor.SelfEntry(taskvisor.RoleBackupScheduler, exe, args...))
	} else {
		logger.Info().Msg("No backup target, backup scheduler disabled")
	}
	fixed = append(fixed, taskvisor.SelfEntry(taskvisor.RoleServer, exe, args...))

	var src taskvisor.ConfigSource = cfg.Source()
	if cfgPath != "" {
		src = taskvisor.NewFileConfig(cfgPath, cfg.Source())
	}

	var discovery taskvisor.TaskDiscovery
	if cfg.Plugins.Dir != "" {
		discovery = taskvisor.NewPluginRegistry(cfg.Plugins.Dir, logger)
	}

	backupLog := taskvisor.NewMultiLogger("backup")

	s, e := taskvisor.NewSupervisor(taskvisor.Options{
		Name:      cfg.Name,
		Grace:     cfg.Grace,
		Workers:   fixed,
		Control:   taskvisor.SelfEntry(taskvisor.RoleControl, exe, args...),
		Discovery: discovery,
		Config:    src,
		Bridge:    &taskvisor.HTSQLBridge{Command: cfg.Query.HTSQLCtl, Timeout: cfg.Query.Timeout},
		Backup:    taskvisor.NewDuplicity(cfg.Backup, backupLog.Logger()),
		BackupLog: backupLog,
		LogWriter: console,
	})
	if e != nil {
		return e
	}

	var stopping atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Set up a handler, so that we shutdown cleanly if possible.
	go func() {
		sig := <-sigs
		stopping.Store(true)
		logger := s.Logger()
		logger.Info().Str("signal", sig.String()).Msg("Terminating")
		s.Shutdown()
		os.Exit(0)
	}()

	e = s.Run()
	if stopping.Load() {
		// The signal handler owns the exit.
		select {}
	}
	if e != nil {
		logger := s.Logger()
		if errors.Is(e, taskvisor.ErrUnknownAction) {
			logger.Error().Err(e).Msg("Control protocol mismatch")
		} else {
			logger.Error().Err(e).Msg("Supervisor failed")
		}
	}
	s.Shutdown()
	return e
}

func main() {
	flag.StringVar(&cfgPath, "c", cfgPath, "configuration file")
	flag.StringVar(&name, "n", name, "supervisor name")
	flag.StringVar(&worker, "worker", worker, "run as the named worker (internal)")
	flag.Parse()

	if cfgPath != "" {
		// Workers and restarts may not share our working directory.
		if abs, e := filepath.Abs(cfgPath); e == nil {
			cfgPath = abs
		}
	}

	cfg := taskvisor.DefaultConfig()
	if cfgPath != "" {
		var e error
		if cfg, e = taskvisor.LoadConfig(cfgPath); e != nil {
			fmt.Fprintf(os.Stderr, "taskvisord: %v\n", e)
			os.Exit(2)
		}
	}
	if name != "" {
		cfg.Name = name
	}

	var e error
	if worker != "" {
		e = runWorker(cfg)
	} else {
		e = runSupervisor(cfg)
	}
	if e != nil {
		fmt.Fprintf(os.Stderr, "taskvisord: %v\n", e)
		os.Exit(1)
	}
}
