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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Action names understood by the supervisor.
const (
	ActionRestart       = "restart"
	ActionQuery         = "htsql_query"
	ActionBackupStatus  = "backup_status"
	ActionBackupRestore = "backup_restore"
	ActionStatus        = "status"
	ActionLog           = "log"
)

// Args are the positional arguments of an action request, as decoded
// from JSON.  Absent trailing arguments and explicit nulls look the same.
type Args []interface{}

// String returns argument i, which must be a string.
func (a Args) String(i int) (string, error) {
	if i >= len(a) || a[i] == nil {
		return "", fmt.Errorf("%w: argument %d is required", ErrBadArguments, i+1)
	}
	s, ok := a[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a string", ErrBadArguments, i+1)
	}
	return s, nil
}

// OptString returns argument i if present, or "" if absent or null.
func (a Args) OptString(i int) (string, error) {
	if i >= len(a) || a[i] == nil {
		return "", nil
	}
	return a.String(i)
}

// OptInt returns argument i as an integer, or def if absent.  Numbers
// and numeric strings are both accepted.  Decoders should use
// json.Number; a float64 is only taken when it holds an exact integer.
func (a Args) OptInt(i int, def int64) (int64, error) {
	if i >= len(a) || a[i] == nil {
		return def, nil
	}
	switch v := a[i].(type) {
	case json.Number:
		n, e := v.Int64()
		if e != nil {
			return 0, fmt.Errorf("%w: argument %d must be an integer", ErrBadArguments, i+1)
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, fmt.Errorf("%w: argument %d must be an integer", ErrBadArguments, i+1)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, e := strconv.ParseInt(v, 10, 64)
		if e != nil {
			return 0, fmt.Errorf("%w: argument %d must be a number", ErrBadArguments, i+1)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: argument %d must be a number", ErrBadArguments, i+1)
}

// Handler executes one action.  Failures are reported as success=false
// with the error text in the payload; handlers do not return errors.
type Handler func(args Args) (success bool, payload string)

// Registry maps action names to handlers.  It is fixed once built.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry over a copy of handlers.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		r.handlers[name] = h
	}
	return r
}

// Lookup finds the handler for an action.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named action.  An unknown name is the only error;
// it means the caller speaks a different protocol than we do.  A panic
// inside the handler is reported like any other handler failure.
func (r *Registry) Dispatch(name string, args Args) (success bool, payload string, err error) {
	h, ok := r.handlers[name]
	if !ok {
		return false, "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	defer func() {
		if p := recover(); p != nil {
			success = false
			payload = fmt.Sprint(p)
		}
	}()
	success, payload = h(args)
	return success, payload, nil
}
