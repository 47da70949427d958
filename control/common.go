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

// Package control implements the control-plane worker: an HTTP and
// WebSocket front end that turns outside requests into actions on the
// supervisor's control channel.  It also has the matching client.
package control

import (
	"time"

	"github.com/taskvisor/taskvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"
)

// Result is the outcome of an action.
type Result struct {
	Success bool   `json:"success"`
	Payload string `json:"payload"`
}

// Status is the decoded payload of the status action.
type Status struct {
	Name    string                 `json:"name"`
	Pid     int                    `json:"pid"`
	Created time.Time              `json:"created"`
	Workers []taskvisor.WorkerInfo `json:"workers"`
}

// WsRequest is one request over the WebSocket.
type WsRequest struct {
	ID     string        `json:"id"`
	Action string        `json:"action"`
	Args   []interface{} `json:"args"`
}

// WsReply answers a WsRequest.  Error is set when the request never
// reached the supervisor.
type WsReply struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Payload string `json:"payload"`
	Error   string `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
