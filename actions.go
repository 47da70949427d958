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
	"encoding/json"
	"os"

	"github.com/tidwall/sjson"
)

// ActionQueryAlias is accepted as another name for htsql_query.
const ActionQueryAlias = "query"

func (s *Supervisor) handlers() map[string]Handler {
	return map[string]Handler{
		ActionRestart:       s.actionRestart,
		ActionQuery:         s.actionQuery,
		ActionQueryAlias:    s.actionQuery,
		ActionBackupStatus:  s.actionBackupStatus,
		ActionBackupRestore: s.actionBackupRestore,
		ActionStatus:        s.actionStatus,
		ActionLog:           s.actionLog,
	}
}

// KnownActions returns the action names a supervisor of this version
// handles.
func KnownActions() []string {
	return NewRegistry(new(Supervisor).handlers()).Names()
}

// actionRestart stops every worker, the control worker included, and
// replaces the process image with a fresh copy of ourselves.  A
// successful exec never returns, so there is no reply; the new image
// starts a new control worker.  If the exec fails the old control
// worker is already gone and nobody is waiting for a reply, so the
// failure is fatal to the loop.
func (s *Supervisor) actionRestart(Args) (bool, string) {
	s.logger.Info().Str("exe", s.exe).Msg("Restarting")
	s.stop(false)
	if e := s.exec(s.exe, s.argv, os.Environ()); e != nil {
		s.logger.Error().Err(e).Msg("Restart failed")
		s.fatal = e
		return false, e.Error()
	}
	s.replaced = true
	return true, ""
}

func (s *Supervisor) actionQuery(args Args) (bool, string) {
	query, e := args.String(0)
	if e != nil {
		return false, e.Error()
	}
	if s.bridge == nil {
		return false, ErrNoBridge.Error()
	}
	if s.config == nil {
		return false, ErrNoSuchKey.Error()
	}
	dsn, e := LoadDSN(s.config)
	if e != nil {
		return false, e.Error()
	}
	out, e := s.bridge.Produce(context.Background(), dsn, query)
	if e != nil {
		return false, e.Error()
	}
	return true, out
}

func (s *Supervisor) actionBackupStatus(args Args) (bool, string) {
	userHash, e := args.OptString(0)
	if e != nil {
		return false, e.Error()
	}
	if s.backup == nil {
		return false, ErrNoBackup.Error()
	}
	var err error
	out := s.backupLog.Capture(func() {
		err = s.backup.Status(context.Background(), userHash)
	})
	if err != nil {
		return false, err.Error()
	}
	return true, out
}

// actionBackupRestore restores with every worker but the control worker
// stopped, and starts them again whatever the outcome.
func (s *Supervisor) actionBackupRestore(args Args) (bool, string) {
	userHash, e := args.String(0)
	if e != nil {
		return false, e.Error()
	}
	at, e := args.OptString(1)
	if e != nil {
		return false, e.Error()
	}
	if s.backup == nil {
		return false, ErrNoBackup.Error()
	}

	s.stop(true)
	defer func() {
		if e := s.startAll(); e != nil {
			s.fatal = e
		}
	}()

	if e := s.backup.Restore(context.Background(), userHash, at); e != nil {
		s.logger.Error().Err(e).Msg("Restore failed")
		return false, e.Error()
	}
	return true, "Restore finished"
}

func (s *Supervisor) actionStatus(Args) (bool, string) {
	var e error
	doc := "{}"
	if doc, e = sjson.Set(doc, "name", s.name); e != nil {
		return false, e.Error()
	}
	if doc, e = sjson.Set(doc, "pid", os.Getpid()); e != nil {
		return false, e.Error()
	}
	if doc, e = sjson.Set(doc, "created", s.created); e != nil {
		return false, e.Error()
	}
	if doc, e = sjson.SetRaw(doc, "workers", "[]"); e != nil {
		return false, e.Error()
	}
	for _, info := range s.workers() {
		if doc, e = sjson.Set(doc, "workers.-1", info); e != nil {
			return false, e.Error()
		}
	}
	return true, doc
}

// LogReply is the payload of the log action.  Records is the whole
// ring, or null when nothing was logged since the id passed in.
type LogReply struct {
	Id      int64       `json:"id,string"`
	Records []LogRecord `json:"records"`
}

func (s *Supervisor) actionLog(args Args) (bool, string) {
	last, e := args.OptInt(0, 0)
	if e != nil {
		return false, e.Error()
	}
	recs, id := s.log.GetRecords(last)
	b, e := json.Marshal(&LogReply{Id: id, Records: recs})
	if e != nil {
		return false, e.Error()
	}
	return true, string(b)
}
