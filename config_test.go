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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testConfig = `
[supervisor]
name = "stoqd"
grace = "5s"

[control]
listen = "127.0.0.1:9000"
user = "admin"

[server]
command = ["/usr/bin/stoqserver", "--port", "6970"]

[backup]
target = "file:///var/backups/stoq"
interval = "6h"

[database]
rdbms = "mysql"
port = 3306
dbname = "shop"
`

func writeConfig(dir, body string) string {
	path := filepath.Join(dir, "taskvisor.toml")
	So(os.WriteFile(path, []byte(body), 0644), ShouldBeNil)
	return path
}

func TestLoadConfig(t *testing.T) {
	Convey("Loading configuration", t, func() {
		dir := t.TempDir()

		Convey("Defaults without a file", func() {
			cfg, e := LoadConfig("")
			So(e, ShouldBeNil)
			So(cfg.Name, ShouldEqual, "taskvisord")
			So(cfg.Grace, ShouldEqual, DefaultGrace)
			So(cfg.Control.Listen, ShouldEqual, DefaultControlListen)
			So(cfg.Database.Port, ShouldEqual, "5432")
		})

		Convey("File values override defaults", func() {
			cfg, e := LoadConfig(writeConfig(dir, testConfig))
			So(e, ShouldBeNil)
			So(cfg.Name, ShouldEqual, "stoqd")
			So(cfg.Grace, ShouldEqual, 5*time.Second)
			So(cfg.Control.Listen, ShouldEqual, "127.0.0.1:9000")
			So(cfg.Control.User, ShouldEqual, "admin")
			So(cfg.Control.MaxConns, ShouldEqual, 16)
			So(cfg.Server.Command, ShouldResemble, []string{"/usr/bin/stoqserver", "--port", "6970"})
			So(cfg.Server.Listen, ShouldEqual, DefaultServerListen)
			So(cfg.Backup.Target, ShouldEqual, "file:///var/backups/stoq")
			So(cfg.Backup.Interval, ShouldEqual, 6*time.Hour)
			So(cfg.Backup.Command, ShouldEqual, "duplicity")
			So(cfg.Database.RDBMS, ShouldEqual, "mysql")
			So(cfg.Database.Port, ShouldEqual, "3306")
			So(cfg.Database.DBName, ShouldEqual, "shop")
			So(cfg.Database.Address, ShouldEqual, "localhost")
		})

		Convey("Bad durations are errors", func() {
			_, e := LoadConfig(writeConfig(dir, "[supervisor]\ngrace = \"soon\"\n"))
			So(e, ShouldNotBeNil)
		})

		Convey("Bad syntax is an error", func() {
			_, e := LoadConfig(writeConfig(dir, "[supervisor\n"))
			So(e, ShouldNotBeNil)
		})

		Convey("Missing files are errors", func() {
			_, e := LoadConfig(filepath.Join(dir, "nosuch.toml"))
			So(e, ShouldNotBeNil)
		})
	})
}

func TestConfigSource(t *testing.T) {
	Convey("Configuration sources", t, func() {
		dir := t.TempDir()
		path := writeConfig(dir, testConfig)
		fallback := DefaultConfig().Source()
		src := NewFileConfig(path, fallback)

		Convey("Read the file", func() {
			v, e := src.Get("database", "rdbms")
			So(e, ShouldBeNil)
			So(v, ShouldEqual, "mysql")
			v, e = src.Get("database", "port")
			So(e, ShouldBeNil)
			So(v, ShouldEqual, "3306")
		})

		Convey("Fall back for missing keys", func() {
			v, e := src.Get("database", "address")
			So(e, ShouldBeNil)
			So(v, ShouldEqual, "localhost")
		})

		Convey("See edits without reloading", func() {
			writeConfig(dir, "[database]\nrdbms = \"oracle\"\n")
			v, e := src.Get("database", "rdbms")
			So(e, ShouldBeNil)
			So(v, ShouldEqual, "oracle")
		})

		Convey("Report unknown keys", func() {
			_, e := NewFileConfig(path, nil).Get("database", "password")
			So(errors.Is(e, ErrNoSuchKey), ShouldBeTrue)
			_, e = fallback.Get("nosuch", "key")
			So(errors.Is(e, ErrNoSuchKey), ShouldBeTrue)
		})
	})
}
