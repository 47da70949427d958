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

//go:build linux

package taskvisor

import (
	"syscall"
)

// Daemonic workers are killed by the kernel when the supervisor dies,
// however it dies.  Every worker gets its own process group, so that a
// terminal interrupt reaches only the supervisor, and both stop signals
// reach the worker's own children too.
func sysProcAttr(daemonic bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if daemonic {
		attr.Pdeathsig = syscall.SIGKILL
	}
	return attr
}
