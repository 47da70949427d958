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

package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/taskvisor/taskvisor/control"
)

// OutputPanel shows the result of an action, such as backup status.
type OutputPanel struct {
	text    *views.TextArea
	running bool

	Panel
}

func NewOutputPanel(app *App) *OutputPanel {
	p := &OutputPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

// Start clears the panel for a new action.
func (p *OutputPanel) Start(title string) {
	p.running = true
	p.SetTitle(title)
	p.SetStatus("Running ...")
	p.SetLevel(LevelWarn)
	p.text.SetLines([]string{""})
}

// Finish shows the outcome of the action.
func (p *OutputPanel) Finish(title string, res *control.Result, e error) {
	p.running = false
	p.SetTitle(title)
	switch {
	case e != nil:
		p.SetStatus("Request failed")
		p.SetLevel(LevelError)
		p.text.SetLines([]string{e.Error()})
	case !res.Success:
		p.SetStatus("Action failed")
		p.SetLevel(LevelError)
		p.text.SetLines(strings.Split(res.Payload, "\n"))
	default:
		p.SetStatus("Done")
		p.SetLevel(LevelGood)
		p.text.SetLines(strings.Split(strings.TrimRight(res.Payload, "\n"), "\n"))
	}
}

func (p *OutputPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			p.app.ShowMain()
			return true
		case tcell.KeyF1:
			p.app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				p.app.ShowMain()
				return true
			case 'H', 'h':
				p.app.ShowHelp()
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}
