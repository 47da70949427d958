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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/taskvisor/taskvisor"
)

// Status is a one word summary of a worker.
func Status(w *taskvisor.WorkerInfo) string {
	if w.Error != "" {
		return "failed"
	}
	return w.State
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Uptime is how long the worker has been (or was) running.
func Uptime(w *taskvisor.WorkerInfo) string {
	if w.Started.IsZero() {
		return "-"
	}
	return FormatDuration(time.Since(w.Started))
}

type sorted []taskvisor.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if (a.Error != "") != (b.Error != "") {
		// put failed items at front
		return a.Error != ""
	}
	if (a.State == "running") != (b.State == "running") {
		return a.State == "running"
	}
	if a.Role != b.Role {
		return a.Role < b.Role
	}
	return a.Name < b.Name
}

func SortWorkers(items []taskvisor.WorkerInfo) {
	sort.Stable(sorted(items))
}
