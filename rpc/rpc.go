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

// Package rpc implements the control channel between the supervisor and
// its control-plane worker.  The channel is one end of a local socket
// pair; messages are JSON objects, one per line, and strictly alternate
// between a request and its response.
package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	ErrClosed   = errors.New("Control channel closed")
	ErrMismatch = errors.New("Response does not match request")
)

// Request names an action and carries its positional arguments.  The
// arguments are whatever JSON values the caller supplied.
type Request struct {
	ID     string        `json:"id"`
	Action string        `json:"action"`
	Args   []interface{} `json:"args"`
}

// Response answers exactly one Request.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Payload string `json:"payload"`
}

// Conn is one endpoint of the control channel.  Send and Receive are
// blocking and ordered.  Call pairs a Send with the matching Receive, and
// serializes concurrent callers so that only one request is outstanding.
type Conn struct {
	c    net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	wlk  sync.Mutex
	call sync.Mutex
}

func translate(e error) error {
	if e == nil {
		return nil
	}
	if errors.Is(e, io.EOF) || errors.Is(e, net.ErrClosed) ||
		errors.Is(e, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return e
}

// Send writes one message.
func (c *Conn) Send(v interface{}) error {
	c.wlk.Lock()
	defer c.wlk.Unlock()
	return translate(c.enc.Encode(v))
}

// Receive blocks until one whole message has been read into v.
func (c *Conn) Receive(v interface{}) error {
	return translate(c.dec.Decode(v))
}

func (c *Conn) SendRequest(r *Request) error {
	if r.Args == nil {
		r.Args = []interface{}{}
	}
	return c.Send(r)
}

func (c *Conn) ReceiveRequest() (*Request, error) {
	r := &Request{}
	if e := c.Receive(r); e != nil {
		return nil, e
	}
	return r, nil
}

func (c *Conn) SendResponse(r *Response) error {
	return c.Send(r)
}

func (c *Conn) ReceiveResponse() (*Response, error) {
	r := &Response{}
	if e := c.Receive(r); e != nil {
		return nil, e
	}
	return r, nil
}

// Call sends the request and waits for its response.  There is no way
// to abandon a call once sent; doing so would leave a stale response in
// the channel for the next caller.
func (c *Conn) Call(r *Request) (*Response, error) {
	c.call.Lock()
	defer c.call.Unlock()

	if e := c.SendRequest(r); e != nil {
		return nil, e
	}
	rsp, e := c.ReceiveResponse()
	if e != nil {
		return nil, e
	}
	if rsp.ID != r.ID {
		return nil, ErrMismatch
	}
	return rsp, nil
}

// Notify sends a request for which no response will come, such as a
// restart.  It waits for any call in progress to complete first.
func (c *Conn) Notify(r *Request) error {
	c.call.Lock()
	defer c.call.Unlock()
	return c.SendRequest(r)
}

func (c *Conn) Close() error {
	return c.c.Close()
}

// NewConn wraps an established stream connection.
func NewConn(nc net.Conn) *Conn {
	dec := json.NewDecoder(nc)
	// Log ids are nanosecond stamps, too big for a float64.
	dec.UseNumber()
	return &Conn{
		c:   nc,
		enc: json.NewEncoder(nc),
		dec: dec,
	}
}

// FromFile builds a Conn from an inherited descriptor, typically the
// one passed to the control worker as its first extra file.
func FromFile(f *os.File) (*Conn, error) {
	nc, e := net.FileConn(f)
	if e != nil {
		return nil, e
	}
	return NewConn(nc), nil
}

// Pair creates a connected socket pair.  The Conn is the local end; the
// file is the remote end, suitable for exec.Cmd.ExtraFiles.  Both
// descriptors are close-on-exec, so neither survives a replacement of
// the current process image; exec.Cmd clears the flag on the copy it
// hands to the child.
func Pair() (*Conn, *os.File, error) {
	// SOCK_CLOEXEC is not portable; hold the fork lock until the flags
	// are set so no concurrent exec can leak the descriptors.
	syscall.ForkLock.RLock()
	fds, e := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if e != nil {
		syscall.ForkLock.RUnlock()
		return nil, nil, os.NewSyscallError("socketpair", e)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	syscall.ForkLock.RUnlock()

	local := os.NewFile(uintptr(fds[0]), "control-local")
	remote := os.NewFile(uintptr(fds[1]), "control-remote")

	c, e := FromFile(local)
	// FileConn duplicates the descriptor.
	local.Close()
	if e != nil {
		remote.Close()
		return nil, nil, e
	}
	return c, remote, nil
}
