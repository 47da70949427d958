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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// TaskDiscovery finds additional workers to run.  It is consulted every
// time the supervisor starts its workers.
type TaskDiscovery interface {
	Discover() ([]EntryPoint, error)
}

// TaskFunc is the name of the Lua function a plugin defines to
// contribute workers.
const TaskFunc = "get_server_tasks"

const manifestName = "plugin.json"

// PluginManifest is the plugin.json found in each plugin directory.
type PluginManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Main        string `json:"main"` // Lua file, relative to the plugin directory

	path string
}

// Dir returns the directory the manifest was loaded from.
func (m *PluginManifest) Dir() string {
	return m.path
}

// LoadPluginManifest reads and checks a plugin.json.
func LoadPluginManifest(path string) (*PluginManifest, error) {
	data, e := os.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("read manifest: %w", e)
	}
	m := &PluginManifest{}
	if e := json.Unmarshal(data, m); e != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, e)
	}
	m.path = filepath.Dir(path)
	if m.Name == "" {
		m.Name = filepath.Base(m.path)
	}
	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return nil, fmt.Errorf("manifest %s: main must be a .lua file", path)
	}
	return m, nil
}

// PluginRegistry is a directory of installed plugins, one per
// subdirectory.  A plugin contributes workers by defining
// get_server_tasks() in its main Lua file; the function returns a list
// whose items are either a command line string or a table with name,
// command, env, and dir fields.  A plugin without the function simply
// contributes nothing.
type PluginRegistry struct {
	dir    string
	logger zerolog.Logger
}

func NewPluginRegistry(dir string, logger zerolog.Logger) *PluginRegistry {
	return &PluginRegistry{dir: dir, logger: logger}
}

// InstalledPlugins returns the manifests of every installed plugin,
// ordered by name.  Plugins with broken manifests are skipped and
// reported in the error.
func (r *PluginRegistry) InstalledPlugins() ([]*PluginManifest, error) {
	if r.dir == "" {
		return nil, nil
	}
	paths, e := filepath.Glob(filepath.Join(r.dir, "*", manifestName))
	if e != nil {
		return nil, e
	}
	var errs []error
	plugins := make([]*PluginManifest, 0, len(paths))
	for _, p := range paths {
		m, e := LoadPluginManifest(p)
		if e != nil {
			errs = append(errs, e)
			continue
		}
		plugins = append(plugins, m)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins, errors.Join(errs...)
}

// Discover implements TaskDiscovery.
func (r *PluginRegistry) Discover() ([]EntryPoint, error) {
	plugins, err := r.InstalledPlugins()
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	var entries []EntryPoint
	for _, m := range plugins {
		tasks, e := PluginTasks(m)
		if e != nil {
			r.logger.Warn().Err(e).Str("plugin", m.Name).Msg("Failed to load plugin tasks")
			errs = append(errs, e)
			continue
		}
		if len(tasks) != 0 {
			r.logger.Info().Str("plugin", m.Name).Int("tasks", len(tasks)).Msg("Plugin tasks found")
		}
		entries = append(entries, tasks...)
	}
	return entries, errors.Join(errs...)
}

func newLuaState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return L
}

// PluginTasks runs the plugin's main file and collects the entry points
// returned by its get_server_tasks function.
func PluginTasks(m *PluginManifest) ([]EntryPoint, error) {
	if m.Main == "" {
		return nil, nil
	}
	L := newLuaState()
	defer L.Close()

	if e := L.DoFile(filepath.Join(m.path, m.Main)); e != nil {
		return nil, fmt.Errorf("plugin %s: %w", m.Name, e)
	}
	fn := L.GetGlobal(TaskFunc)
	if fn.Type() != lua.LTFunction {
		return nil, nil
	}
	if e := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); e != nil {
		return nil, fmt.Errorf("plugin %s: %w", m.Name, e)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LNil {
		return nil, nil
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("plugin %s: %s must return a list", m.Name, TaskFunc)
	}

	var entries []EntryPoint
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		idx := len(entries) + 1
		ep := EntryPoint{
			Name: fmt.Sprintf("%s:%d", m.Name, idx),
			Role: RolePlugin,
			Dir:  m.path,
			Env:  []string{"TASKVISOR_PLUGIN=" + m.Name},
		}
		switch v := v.(type) {
		case lua.LString:
			ep.Command = strings.Fields(string(v))
		case *lua.LTable:
			if name := v.RawGetString("name"); name.Type() == lua.LTString {
				ep.Name = m.Name + ":" + name.String()
			}
			if dir := v.RawGetString("dir"); dir.Type() == lua.LTString {
				ep.Dir = dir.String()
				if !filepath.IsAbs(ep.Dir) {
					ep.Dir = filepath.Join(m.path, ep.Dir)
				}
			}
			switch c := v.RawGetString("command").(type) {
			case lua.LString:
				ep.Command = strings.Fields(string(c))
			case *lua.LTable:
				ep.Command = luaStrings(c)
			}
			if env, ok := v.RawGetString("env").(*lua.LTable); ok {
				ep.Env = append(ep.Env, luaStrings(env)...)
			}
		default:
			err = fmt.Errorf("plugin %s: bad task %v", m.Name, k)
			return
		}
		if len(ep.Command) == 0 {
			err = fmt.Errorf("plugin %s: task %s has no command", m.Name, ep.Name)
			return
		}
		entries = append(entries, ep)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func luaStrings(t *lua.LTable) []string {
	n := t.Len()
	rv := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		rv = append(rv, lua.LVAsString(t.RawGetInt(i)))
	}
	return rv
}
