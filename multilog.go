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
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// MultiLogger fans a structured log stream out to several writers.  It
// owns a zerolog.Logger whose output is the MultiLogger itself, so every
// record written through Logger() reaches every registered writer.
// Writers may come and go while logging is in progress; that is how the
// backup actions capture the output of a single call.
type MultiLogger struct {
	log     zerolog.Logger
	writers []io.Writer
	lock    sync.Mutex
}

// Write implements io.Writer.  zerolog delivers one whole record per
// call, and each record is handed to every writer unchanged.
func (l *MultiLogger) Write(b []byte) (int, error) {
	l.lock.Lock()
	for _, w := range l.writers {
		w.Write(b)
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddWriter adds a destination.  A writer can only be added once.
func (l *MultiLogger) AddWriter(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.writers {
		if x == w {
			return
		}
	}
	l.writers = append(l.writers, w)
}

// DelWriter removes a destination added with AddWriter.
func (l *MultiLogger) DelWriter(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, x := range l.writers {
		if x == w {
			l.writers = append(l.writers[:i], l.writers[i+1:]...)
			break
		}
	}
}

func (l *MultiLogger) Logger() zerolog.Logger {
	return l.log
}

// Capture runs fn with a Capture attached, and returns what it saw.
func (l *MultiLogger) Capture(fn func()) string {
	c := &Capture{}
	l.AddWriter(c)
	defer l.DelWriter(c)
	fn()
	return c.String()
}

// NewMultiLogger returns a MultiLogger whose records carry the given
// logger name.  It has no writers until some are added.
func NewMultiLogger(name string) *MultiLogger {
	m := &MultiLogger{}
	m.log = zerolog.New(m).With().Timestamp().Str("logger", name).Logger()
	return m
}

// Capture collects the messages of structured log records as plain
// text, one line per record.  Input that is not a JSON record is kept
// as it is.
type Capture struct {
	buf  bytes.Buffer
	lock sync.Mutex
}

func (c *Capture) Write(b []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, line := range strings.Split(strings.Trim(string(b), "\n"), "\n") {
		if line == "" {
			continue
		}
		if gjson.Valid(line) {
			if msg := gjson.Get(line, "message"); msg.Exists() {
				line = msg.String()
			}
		}
		c.buf.WriteString(line)
		c.buf.WriteByte('\n')
	}
	return len(b), nil
}

func (c *Capture) String() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.buf.String()
}

// NewConsoleWriter returns a human readable writer for terminals.
func NewConsoleWriter(w io.Writer) io.Writer {
	return &zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// NewLogger builds the logger used throughout a taskvisor process.
func NewLogger(app string, w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("app", app).Logger()
}
