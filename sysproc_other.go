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

//go:build unix && !linux

package taskvisor

import (
	"syscall"
)

// There is no parent-death signal here; daemonic workers rely on
// Supervisor.Shutdown being called on the way out.
func sysProcAttr(daemonic bool) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
