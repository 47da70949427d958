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
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultGrace         = 2 * time.Second
	DefaultControlListen = "127.0.0.1:8322"
	DefaultServerListen  = "127.0.0.1:6970"
	DefaultBackupPeriod  = 24 * time.Hour
)

// Config is the daemon configuration, read from a TOML file.  Anything
// left out of the file keeps its default.
type Config struct {
	Name     string
	Grace    time.Duration
	Control  ControlConfig
	Server   ServerConfig
	Backup   BackupConfig
	Query    QueryConfig
	Plugins  PluginConfig
	Database DatabaseConfig
}

type ControlConfig struct {
	Listen       string
	User         string
	PasswordHash string
	MaxConns     int
}

type ServerConfig struct {
	Listen  string
	Command []string
}

type BackupConfig struct {
	Command    string
	Source     string
	Target     string
	RestoreDir string
	Interval   time.Duration
}

type QueryConfig struct {
	HTSQLCtl string
	Timeout  time.Duration
}

type PluginConfig struct {
	Dir string
}

type DatabaseConfig struct {
	RDBMS      string
	Address    string
	Port       string
	DBName     string
	DBUserName string
}

type fileConfig struct {
	Supervisor struct {
		Name  string `toml:"name"`
		Grace string `toml:"grace"`
	} `toml:"supervisor"`
	Control struct {
		Listen       string `toml:"listen"`
		User         string `toml:"user"`
		PasswordHash string `toml:"password_hash"`
		MaxConns     int    `toml:"max_conns"`
	} `toml:"control"`
	Server struct {
		Listen  string   `toml:"listen"`
		Command []string `toml:"command"`
	} `toml:"server"`
	Backup struct {
		Command    string `toml:"command"`
		Source     string `toml:"source"`
		Target     string `toml:"target"`
		RestoreDir string `toml:"restore_dir"`
		Interval   string `toml:"interval"`
	} `toml:"backup"`
	Query struct {
		HTSQLCtl string `toml:"htsql_ctl"`
		Timeout  string `toml:"timeout"`
	} `toml:"query"`
	Plugins struct {
		Dir string `toml:"dir"`
	} `toml:"plugins"`
	Database struct {
		RDBMS      string      `toml:"rdbms"`
		Address    string      `toml:"address"`
		Port       interface{} `toml:"port"`
		DBName     string      `toml:"dbname"`
		DBUserName string      `toml:"dbusername"`
	} `toml:"database"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Name:  "taskvisord",
		Grace: DefaultGrace,
		Control: ControlConfig{
			Listen:   DefaultControlListen,
			MaxConns: 16,
		},
		Server: ServerConfig{
			Listen: DefaultServerListen,
		},
		Backup: BackupConfig{
			Command:  "duplicity",
			Interval: DefaultBackupPeriod,
		},
		Query: QueryConfig{
			HTSQLCtl: "htsql-ctl",
			Timeout:  time.Minute,
		},
		Database: DatabaseConfig{
			RDBMS:   "postgres",
			Address: "localhost",
			Port:    "5432",
			DBName:  "stoq",
		},
	}
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, e := time.ParseDuration(strings.TrimSpace(raw))
	if e != nil {
		return 0, fmt.Errorf("parse %s: %w", name, e)
	}
	return d, nil
}

// LoadConfig reads the file at path over the defaults.  An empty path
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, e := toml.DecodeFile(path, &raw)
	if e != nil {
		return nil, fmt.Errorf("load config: %w", e)
	}

	if meta.IsDefined("supervisor", "name") {
		cfg.Name = strings.TrimSpace(raw.Supervisor.Name)
	}
	if meta.IsDefined("supervisor", "grace") {
		if cfg.Grace, e = parseDuration("grace", raw.Supervisor.Grace); e != nil {
			return nil, e
		}
	}
	if meta.IsDefined("control", "listen") {
		cfg.Control.Listen = strings.TrimSpace(raw.Control.Listen)
	}
	if meta.IsDefined("control", "user") {
		cfg.Control.User = strings.TrimSpace(raw.Control.User)
	}
	if meta.IsDefined("control", "password_hash") {
		cfg.Control.PasswordHash = strings.TrimSpace(raw.Control.PasswordHash)
	}
	if meta.IsDefined("control", "max_conns") {
		cfg.Control.MaxConns = raw.Control.MaxConns
	}
	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "command") {
		cfg.Server.Command = raw.Server.Command
	}
	if meta.IsDefined("backup", "command") {
		cfg.Backup.Command = strings.TrimSpace(raw.Backup.Command)
	}
	if meta.IsDefined("backup", "source") {
		cfg.Backup.Source = strings.TrimSpace(raw.Backup.Source)
	}
	if meta.IsDefined("backup", "target") {
		cfg.Backup.Target = strings.TrimSpace(raw.Backup.Target)
	}
	if meta.IsDefined("backup", "restore_dir") {
		cfg.Backup.RestoreDir = strings.TrimSpace(raw.Backup.RestoreDir)
	}
	if meta.IsDefined("backup", "interval") {
		if cfg.Backup.Interval, e = parseDuration("backup interval", raw.Backup.Interval); e != nil {
			return nil, e
		}
	}
	if meta.IsDefined("query", "htsql_ctl") {
		cfg.Query.HTSQLCtl = strings.TrimSpace(raw.Query.HTSQLCtl)
	}
	if meta.IsDefined("query", "timeout") {
		if cfg.Query.Timeout, e = parseDuration("query timeout", raw.Query.Timeout); e != nil {
			return nil, e
		}
	}
	if meta.IsDefined("plugins", "dir") {
		cfg.Plugins.Dir = strings.TrimSpace(raw.Plugins.Dir)
	}
	if meta.IsDefined("database", "rdbms") {
		cfg.Database.RDBMS = strings.TrimSpace(raw.Database.RDBMS)
	}
	if meta.IsDefined("database", "address") {
		cfg.Database.Address = strings.TrimSpace(raw.Database.Address)
	}
	if meta.IsDefined("database", "port") {
		cfg.Database.Port = fmt.Sprint(raw.Database.Port)
	}
	if meta.IsDefined("database", "dbname") {
		cfg.Database.DBName = strings.TrimSpace(raw.Database.DBName)
	}
	if meta.IsDefined("database", "dbusername") {
		cfg.Database.DBUserName = strings.TrimSpace(raw.Database.DBUserName)
	}
	return cfg, nil
}

// ConfigSource is read-only key/value access to configuration.
type ConfigSource interface {
	Get(section, key string) (string, error)
}

// FileConfig is a ConfigSource that reads its TOML file afresh on every
// lookup, so edits are picked up without a restart.  Keys missing from
// the file are looked up in the fallback, if there is one.
type FileConfig struct {
	path     string
	fallback ConfigSource
}

func NewFileConfig(path string, fallback ConfigSource) *FileConfig {
	return &FileConfig{path: path, fallback: fallback}
}

func (c *FileConfig) miss(section, key string) (string, error) {
	if c.fallback != nil {
		return c.fallback.Get(section, key)
	}
	return "", fmt.Errorf("%w: %s.%s", ErrNoSuchKey, section, key)
}

func (c *FileConfig) Get(section, key string) (string, error) {
	if c.path == "" {
		return c.miss(section, key)
	}
	var raw map[string]interface{}
	if _, e := toml.DecodeFile(c.path, &raw); e != nil {
		return "", fmt.Errorf("load config: %w", e)
	}
	sect, ok := raw[section].(map[string]interface{})
	if !ok {
		return c.miss(section, key)
	}
	v, ok := sect[key]
	if !ok {
		return c.miss(section, key)
	}
	return fmt.Sprint(v), nil
}

// StaticConfig is a ConfigSource over a fixed map, keyed by
// "section.key".
type StaticConfig map[string]string

func (c StaticConfig) Get(section, key string) (string, error) {
	if v, ok := c[section+"."+key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrNoSuchKey, section, key)
}

// Source exposes the database settings of the configuration as a
// ConfigSource.
func (c *Config) Source() StaticConfig {
	return StaticConfig{
		"database.rdbms":      c.Database.RDBMS,
		"database.address":    c.Database.Address,
		"database.port":       c.Database.Port,
		"database.dbname":     c.Database.DBName,
		"database.dbusername": c.Database.DBUserName,
	}
}
