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

// Package scheduler is the built-in backup-scheduler worker.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskvisor/taskvisor"
)

// Scheduler takes a backup every interval.  A failed backup is logged
// and the schedule continues.
type Scheduler struct {
	backup   taskvisor.Backup
	interval time.Duration
	logger   zerolog.Logger
}

// RunOnce takes one backup.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	s.logger.Info().Msg("Backup starting")
	if e := s.backup.Backup(ctx); e != nil {
		s.logger.Error().Err(e).Msg("Backup failed")
		return e
	}
	s.logger.Info().Dur("elapsed", time.Since(start)).Msg("Backup finished")
	return nil
}

// Run takes a backup at the end of every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("Backup schedule started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Backup schedule stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// New returns a Scheduler.  An interval of zero means
// taskvisor.DefaultBackupPeriod.
func New(b taskvisor.Backup, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = taskvisor.DefaultBackupPeriod
	}
	return &Scheduler{backup: b, interval: interval, logger: logger}
}
