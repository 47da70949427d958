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
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/taskvisor/taskvisor/taskvisor/util"
)

// InfoPanel shows the details of one worker.
type InfoPanel struct {
	text *views.TextArea
	name string

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}

	p.Panel.Init(app)

	// We don't change the keybar, so set it once
	p.SetKeys([]string{"[ESC] Main", "[H] Help", "[L] Log"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				app.ShowLog(p.name)
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetName(name string) {
	p.name = name
	p.SetTitle(name)
}

func (p *InfoPanel) update() {
	info, e := p.app.GetItem(p.name)
	if e != nil {
		p.SetStatus(fmt.Sprintf("%s: %v", p.name, e))
		p.SetLevel(LevelError)
		p.text.SetLines([]string{""})
		return
	}

	started := "-"
	if !info.Started.IsZero() {
		started = info.Started.Format(time.RFC1123)
	}
	p.text.SetLines([]string{
		fmt.Sprintf("%-10s %s", "Name:", info.Name),
		fmt.Sprintf("%-10s %s", "Role:", info.Role),
		fmt.Sprintf("%-10s %d", "Pid:", info.Pid),
		fmt.Sprintf("%-10s %s", "State:", info.State),
		fmt.Sprintf("%-10s %v", "Daemonic:", info.Daemonic),
		fmt.Sprintf("%-10s %s", "Started:", started),
		fmt.Sprintf("%-10s %s", "Uptime:", util.Uptime(info)),
		fmt.Sprintf("%-10s %s", "Error:", info.Error),
	})

	p.SetStatus(util.Status(info))
	switch {
	case info.Error != "":
		p.SetLevel(LevelError)
	case info.State == "running":
		p.SetLevel(LevelGood)
	default:
		p.SetLevel(LevelWarn)
	}
}
