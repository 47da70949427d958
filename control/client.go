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

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/taskvisor/taskvisor"
)

// Client talks to a control worker.
type Client struct {
	user      string // HTTP Basic-Auth
	pass      string
	base      string // URI to root of tree on server
	auth      bool
	client    *http.Client
	transport *http.Transport
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, v interface{}) (int, error) {
	req, e := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if e != nil {
		return 0, e
	}
	if body != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return 0, e
	}
	defer res.Body.Close()
	b, e := io.ReadAll(res.Body)
	if e != nil {
		return res.StatusCode, e
	}
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusAccepted {
		ce := &Error{}
		if json.Unmarshal(b, ce) != nil || ce.Message == "" {
			ce.Message = res.Status
		}
		ce.Code = res.StatusCode
		return res.StatusCode, ce
	}
	if v == nil {
		return res.StatusCode, nil
	}
	return res.StatusCode, json.Unmarshal(b, v)
}

// Actions lists the actions the control worker will forward.
func (c *Client) Actions(ctx context.Context) ([]string, error) {
	var names []string
	_, e := c.do(ctx, "GET", "/actions", nil, &names)
	return names, e
}

// Do runs an action.  A failed action is not an error; look at
// Result.Success.
func (c *Client) Do(ctx context.Context, action string, args ...interface{}) (*Result, error) {
	if args == nil {
		args = []interface{}{}
	}
	b, e := json.Marshal(args)
	if e != nil {
		return nil, e
	}
	res := &Result{}
	path := "/actions/" + url.PathEscape(action)
	if _, e := c.do(ctx, "POST", path, bytes.NewReader(b), res); e != nil {
		return nil, e
	}
	return res, nil
}

// Status returns the supervisor's process table.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	st := &Status{}
	if _, e := c.do(ctx, "GET", "/workers", nil, st); e != nil {
		return nil, e
	}
	return st, nil
}

// Log returns supervisor log records newer than last, and the id to
// pass next time.
func (c *Client) Log(ctx context.Context, last int64) (*taskvisor.LogReply, error) {
	path := "/log"
	if last > 0 {
		path += "?last=" + strconv.FormatInt(last, 10)
	}
	rep := &taskvisor.LogReply{}
	if _, e := c.do(ctx, "GET", path, nil, rep); e != nil {
		return nil, e
	}
	return rep, nil
}

func (c *Client) Query(ctx context.Context, query string) (*Result, error) {
	return c.Do(ctx, taskvisor.ActionQuery, query)
}

func (c *Client) BackupStatus(ctx context.Context, userHash string) (*Result, error) {
	return c.Do(ctx, taskvisor.ActionBackupStatus, userHash)
}

// BackupRestore restores the backup for userHash.  An empty at means
// the most recent backup.
func (c *Client) BackupRestore(ctx context.Context, userHash, at string) (*Result, error) {
	if at == "" {
		return c.Do(ctx, taskvisor.ActionBackupRestore, userHash)
	}
	return c.Do(ctx, taskvisor.ActionBackupRestore, userHash, at)
}

// Restart asks the supervisor to replace itself.  It returns once the
// request is accepted; the control worker goes away shortly after.
func (c *Client) Restart(ctx context.Context) error {
	_, e := c.Do(ctx, taskvisor.ActionRestart)
	return e
}

// Dial opens a WebSocket session with the control worker.
func (c *Client) Dial(ctx context.Context) (*websocket.Conn, error) {
	u := strings.Replace(c.base, "http", "ws", 1) + "/ws"
	hdr := http.Header{}
	if c.auth {
		req := &http.Request{Header: hdr}
		req.SetBasicAuth(c.user, c.pass)
	}
	ws, _, e := websocket.DefaultDialer.DialContext(ctx, u, hdr)
	return ws, e
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		transport: t,
		base:      strings.TrimRight(baseURI, "/"),
		client:    &http.Client{Transport: t},
	}
	return c
}
