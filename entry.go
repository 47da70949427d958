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

// Role tags a worker with the part it plays.  The supervisor treats the
// control role specially: there is never more than one of them alive,
// and it can be kept running across a stop.
type Role string

const (
	RoleBackupScheduler Role = "backup-scheduler"
	RoleServer          Role = "server"
	RoleControl         Role = "control"
	RolePlugin          Role = "plugin"
)

// EntryPoint says what a worker runs.  Command is the argv of the child
// process; Env is appended to the supervisor's own environment.
type EntryPoint struct {
	Name    string   `json:"name"`
	Role    Role     `json:"role"`
	Command []string `json:"command"`
	Env     []string `json:"env,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// SelfEntry returns the entry point for a built-in role, which is the
// daemon binary exe re-executed with "-worker <role>".  Extra arguments
// are placed before the role flag.
func SelfEntry(role Role, exe string, args ...string) EntryPoint {
	cmd := append([]string{exe}, args...)
	cmd = append(cmd, "-worker", string(role))
	return EntryPoint{
		Name:    string(role),
		Role:    role,
		Command: cmd,
	}
}
