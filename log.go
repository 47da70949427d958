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
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of supervisor log.  Lines produced by the
// structured logger are split into their level, worker, and message;
// anything else is kept verbatim in Text.
type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Level  string    `json:"level,omitempty"`
	Worker string    `json:"worker,omitempty"`
	Text   string    `json:"text"`
}

// Log is a bounded in-memory ring of records.  It is an io.Writer so
// that it can sit behind a MultiLogger.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	mx         sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

func parseRecord(line string, rec *LogRecord) {
	rec.Time = time.Now()
	rec.Level = ""
	rec.Worker = ""
	rec.Text = line
	if !gjson.Valid(line) {
		return
	}
	res := gjson.GetMany(line, "message", "level", "worker", "time")
	if res[0].Exists() {
		rec.Text = res[0].String()
	}
	rec.Level = res[1].String()
	rec.Worker = res[2].String()
	if t, e := time.Parse(time.RFC3339, res[3].String()); e == nil {
		rec.Time = t
	}
}

// Write implements io.Writer.  Each newline separated line becomes
// one record.
func (log *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	log.lock()
	for _, line := range strings.Split(str, "\n") {
		if line == "" {
			continue
		}
		idx := log.numRecords % log.maxRecords
		log.id++
		parseRecord(line, &log.records[idx])
		log.records[idx].Id = log.id
		// NB: numRecords may actually be more than maxRecords.
		// In that case, we've looped, but we use this really to
		// track the next index.
		log.numRecords++
	}
	log.unlock()
	return len(b), nil
}

// GetRecords returns the records that are stored, as well as an ID
// suitable for use as an Etag.  The last parameter can be the last ID
// that was checked, in which case this function will return nil immediately
// if the log has not changed since that ID was returned.
// Note that IDs are not unique across different Log instances.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// NewLog returns a Log holding at most max records; zero selects
// MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	log := &Log{
		maxRecords: max,
		records:    make([]LogRecord, max),
		id:         time.Now().UnixNano(),
	}
	return log
}
