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

// Package taskvisor supervises the worker processes of a back-office
// server on a single host.  A Supervisor starts a fixed set of workers
// (a network server, a scheduled backup runner, and the control-plane
// server) together with any workers contributed by installed plugins,
// and keeps a table of them for the lifetime of the process.
//
// The control-plane worker is the only way in.  It shares a socket pair
// with the Supervisor and forwards administrative actions over it, one
// at a time: status queries, data queries through the HTSQL bridge,
// backup status and restore, and a full restart that replaces the
// supervisor's own process image.
//
// Workers are plain operating system processes.  Built-in workers are
// the daemon binary re-executed with a role argument; plugin workers
// run whatever command the plugin declares.  Stopping a worker sends
// SIGTERM, waits a short grace period, and then kills it outright.
// Nothing is restarted automatically.
package taskvisor
