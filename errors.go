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
	"errors"
)

var (
	ErrUnknownAction  = errors.New("Unknown action")
	ErrBadArguments   = errors.New("Bad action arguments")
	ErrAlreadyStarted = errors.New("Worker already started")
	ErrNoCommand      = errors.New("Worker has no command")
	ErrControlRole    = errors.New("Control role is reserved for the control worker")
	ErrBadEngine      = errors.New("Unsupported database engine")
	ErrNoSuchKey      = errors.New("No such configuration key")
	ErrNoBridge       = errors.New("No query bridge configured")
	ErrNoBackup       = errors.New("No backup subsystem configured")
)

// SpawnError reports that the operating system could not create a
// worker process.  It is not recovered from.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return "Failed to spawn " + e.Name + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// BridgeError is raised by the query bridge.  The message is the
// bridge's own diagnostic text, passed back to the caller unchanged.
type BridgeError struct {
	Query   string
	Message string
}

func (e *BridgeError) Error() string {
	return e.Message
}
