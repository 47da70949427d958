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
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Backup is the backup and restore subsystem.  Implementations report
// progress through their own logger while a call is in progress; the
// supervisor captures that output for the caller.
type Backup interface {
	// Status checks the state of the backup set for userHash, or the
	// default set if userHash is empty.
	Status(ctx context.Context, userHash string) error

	// Restore restores the backup set for userHash, as of the given
	// time if one is supplied, or the latest otherwise.
	Restore(ctx context.Context, userHash string, at string) error

	// Backup takes a new backup.
	Backup(ctx context.Context) error
}

// Duplicity implements Backup by running the duplicity command.
type Duplicity struct {
	Command    string
	Source     string // directory being backed up
	Target     string // backend URL
	RestoreDir string // where restores are written
	logger     zerolog.Logger
}

func (d *Duplicity) target(userHash string) string {
	if userHash == "" {
		return d.Target
	}
	return strings.TrimRight(d.Target, "/") + "/" + userHash
}

func (d *Duplicity) run(ctx context.Context, args ...string) error {
	command := d.Command
	if command == "" {
		command = "duplicity"
	}
	out := &outputLog{logger: d.logger}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	e := cmd.Run()
	out.flush()
	if e != nil {
		return fmt.Errorf("%s %s: %w", command, args[0], e)
	}
	return nil
}

func (d *Duplicity) Status(ctx context.Context, userHash string) error {
	return d.run(ctx, "collection-status", d.target(userHash))
}

func (d *Duplicity) Restore(ctx context.Context, userHash string, at string) error {
	args := []string{"restore", "--force"}
	if at != "" {
		args = append(args, "--time", at)
	}
	dir := d.RestoreDir
	if dir == "" {
		dir = d.Source
	}
	args = append(args, d.target(userHash), dir)
	return d.run(ctx, args...)
}

func (d *Duplicity) Backup(ctx context.Context) error {
	return d.run(ctx, "incremental", d.Source, d.Target)
}

// NewDuplicity returns a Duplicity that logs to logger.
func NewDuplicity(cfg BackupConfig, logger zerolog.Logger) *Duplicity {
	return &Duplicity{
		Command:    cfg.Command,
		Source:     cfg.Source,
		Target:     cfg.Target,
		RestoreDir: cfg.RestoreDir,
		logger:     logger,
	}
}
