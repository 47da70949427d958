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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// engines maps the configured database kind to the HTSQL engine name.
var engines = map[string]string{
	"postgres": "pgsql",
	"sqlite":   "sqlite",
	"mysql":    "mysql",
	"oracle":   "oracle",
	"mssql":    "mssql",
}

// Engine returns the HTSQL engine for a database kind.
func Engine(rdbms string) (string, error) {
	if e, ok := engines[rdbms]; ok {
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadEngine, rdbms)
}

// DSN describes the database a query runs against.  There is no
// password; credentials are found by the engine itself (e.g. .pgpass).
type DSN struct {
	Engine   string
	Host     string
	Port     string
	Database string
	User     string
}

// URI formats the DSN as engine://user@host:port/database.
func (d DSN) URI() string {
	return fmt.Sprintf("%s://%s@%s:%s/%s",
		d.Engine, d.User, d.Host, d.Port, d.Database)
}

// LoadDSN reads the database section of the configuration.
func LoadDSN(src ConfigSource) (DSN, error) {
	vals := map[string]string{}
	for _, key := range []string{"rdbms", "address", "port", "dbname", "dbusername"} {
		v, e := src.Get("database", key)
		if e != nil {
			return DSN{}, e
		}
		vals[key] = v
	}
	engine, e := Engine(vals["rdbms"])
	if e != nil {
		return DSN{}, e
	}
	return DSN{
		Engine:   engine,
		Host:     vals["address"],
		Port:     vals["port"],
		Database: vals["dbname"],
		User:     vals["dbusername"],
	}, nil
}

// QueryBridge runs an HTSQL query and returns the result as a JSON
// document.  Failures inside the bridge are reported as *BridgeError.
type QueryBridge interface {
	Produce(ctx context.Context, dsn DSN, query string) (string, error)
}

// HTSQLBridge runs queries with "htsql-ctl get".
type HTSQLBridge struct {
	Command string
	Timeout time.Duration
}

func jsonQuery(query string) string {
	if strings.Contains(query, "/:") {
		return query
	}
	return strings.TrimRight(query, "/") + "/:json"
}

func (b *HTSQLBridge) Produce(ctx context.Context, dsn DSN, query string) (string, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	command := b.Command
	if command == "" {
		command = "htsql-ctl"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, "get", dsn.URI(), jsonQuery(query))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e := cmd.Run(); e != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = e.Error()
		}
		return "", &BridgeError{Query: query, Message: msg}
	}
	out := strings.TrimSpace(stdout.String())
	if !gjson.Valid(out) {
		return "", &BridgeError{Query: query, Message: "Bridge returned malformed JSON"}
	}
	return out, nil
}
