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
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func writePlugin(dir, name, manifest, main string) string {
	pdir := filepath.Join(dir, name)
	So(os.MkdirAll(pdir, 0755), ShouldBeNil)
	So(os.WriteFile(filepath.Join(pdir, "plugin.json"), []byte(manifest), 0644), ShouldBeNil)
	if main != "" {
		So(os.WriteFile(filepath.Join(pdir, "main.lua"), []byte(main), 0644), ShouldBeNil)
	}
	return pdir
}

func TestPluginRegistry(t *testing.T) {
	Convey("A plugin directory", t, func() {
		dir := t.TempDir()
		r := NewPluginRegistry(dir, testLogger(t))

		Convey("Empty, it offers nothing", func() {
			tasks, e := r.Discover()
			So(e, ShouldBeNil)
			So(len(tasks), ShouldEqual, 0)
		})

		Convey("With plugins", func() {
			pdir := writePlugin(dir, "ecommerce",
				`{"name": "ecommerce", "version": "1.0", "main": "main.lua"}`, `
function get_server_tasks()
  return {
    "/usr/bin/sync-orders --daemon",
    {
      name = "images",
      command = {"/usr/bin/thumbnailer", "--watch"},
      env = {"QUALITY=80"},
      dir = "data",
    },
  }
end
`)
			writePlugin(dir, "quiet", `{"version": "0.1", "main": "main.lua"}`,
				`local x = 1`)
			writePlugin(dir, "bare", `{"name": "bare"}`, "")

			plugins, e := r.InstalledPlugins()
			So(e, ShouldBeNil)
			So(len(plugins), ShouldEqual, 3)
			So(plugins[0].Name, ShouldEqual, "bare")
			So(plugins[1].Name, ShouldEqual, "ecommerce")
			So(plugins[2].Name, ShouldEqual, "quiet")
			So(plugins[1].Dir(), ShouldEqual, pdir)

			tasks, e := r.Discover()
			So(e, ShouldBeNil)
			So(len(tasks), ShouldEqual, 2)

			So(tasks[0].Name, ShouldEqual, "ecommerce:1")
			So(tasks[0].Role, ShouldEqual, RolePlugin)
			So(tasks[0].Command, ShouldResemble, []string{"/usr/bin/sync-orders", "--daemon"})
			So(tasks[0].Dir, ShouldEqual, pdir)
			So(tasks[0].Env, ShouldResemble, []string{"TASKVISOR_PLUGIN=ecommerce"})

			So(tasks[1].Name, ShouldEqual, "ecommerce:images")
			So(tasks[1].Command, ShouldResemble, []string{"/usr/bin/thumbnailer", "--watch"})
			So(tasks[1].Dir, ShouldEqual, filepath.Join(pdir, "data"))
			So(tasks[1].Env, ShouldResemble, []string{"TASKVISOR_PLUGIN=ecommerce", "QUALITY=80"})

			Convey("A broken plugin does not hide the others", func() {
				writePlugin(dir, "broken", `{"main": "main.lua"}`,
					`function get_server_tasks() error("boom") end`)
				writePlugin(dir, "garbled", `{not json`, "")

				tasks, e := r.Discover()
				So(e, ShouldNotBeNil)
				So(e.Error(), ShouldContainSubstring, "broken")
				So(len(tasks), ShouldEqual, 2)
			})
		})

		Convey("Rejects bad tasks", func() {
			writePlugin(dir, "bad", `{"main": "main.lua"}`,
				`function get_server_tasks() return {{name = "x"}} end`)
			_, e := r.Discover()
			So(e, ShouldNotBeNil)
			So(e.Error(), ShouldContainSubstring, "no command")
		})

		Convey("Rejects non-Lua main files", func() {
			writePlugin(dir, "py", `{"main": "main.py"}`, "")
			_, e := r.InstalledPlugins()
			So(e, ShouldNotBeNil)
		})
	})
}
