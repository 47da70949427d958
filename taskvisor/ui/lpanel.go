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
)

// LogPanel shows the supervisor log, optionally only one worker's part.
type LogPanel struct {
	text *views.TextArea
	name string // worker name, or "" for everything

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
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
			case 'A', 'a':
				if p.name != "" {
					app.ShowLog("")
					return true
				}
			case 'I', 'i':
				if p.name != "" {
					app.ShowInfo(p.name)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *LogPanel) SetName(name string) {
	p.text.SetLines(nil)
	p.name = name
}

func (p *LogPanel) update() {
	words := []string{"[ESC] Main", "[H] Help"}
	if p.name == "" {
		p.SetTitle("Supervisor Log")
	} else {
		p.SetTitle("Log for " + p.name)
		words = append(words, "[I] Info", "[A] All")
	}
	p.SetKeys(words)

	recs, e := p.app.GetLog()
	if e != nil {
		p.SetStatus(fmt.Sprintf("Cannot load log: %v", e))
		p.SetLevel(LevelError)
	} else {
		p.SetStatus("")
		p.SetLevel(LevelNormal)
	}

	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		if p.name != "" && r.Worker != p.name {
			continue
		}
		line := fmt.Sprintf("%s %-5s", r.Time.Format(time.StampMilli), r.Level)
		if r.Worker != "" && p.name == "" {
			line += " " + r.Worker + ":"
		}
		lines = append(lines, line+" "+r.Text)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	p.text.SetLines(lines)
}
