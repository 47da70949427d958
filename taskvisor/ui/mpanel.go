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

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/taskvisor/taskvisor"
	"github.com/taskvisor/taskvisor/control"
	"github.com/taskvisor/taskvisor/taskvisor/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

// MainPanel shows the supervisor's process table, one worker per line.
type MainPanel struct {
	content  *views.CellView
	selected string // name of the selected worker
	nfailed  int
	nrunning int
	nstopped int
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []taskvisor.WorkerInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle("Workers")
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	app := m.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != "" {
				app.ShowInfo(m.selected)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.Quit()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != "" {
					app.ShowInfo(m.selected)
					return true
				}
			case 'L', 'l':
				app.ShowLog(m.selected)
				return true
			case 'B', 'b':
				app.BackupStatus()
				return true
			case 'R', 'r':
				app.Restart()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}

	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	style := m.styles[y]
	if m.items[y].Name == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	return m.width, m.height
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == "" {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury].Name
	} else {
		m.selected = ""
	}
}

func styleOf(info *taskvisor.WorkerInfo) tcell.Style {
	switch {
	case info.Error != "":
		return StyleError
	case info.State == "running":
		return StyleGood
	case info.State == "stopping":
		return StyleWarn
	}
	return StyleNormal
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item
	found := false
	for i := range m.items {
		if m.items[i].Name == m.selected {
			m.cury = i
			found = true
		}
	}
	if !found {
		m.selected = ""
	}

	if err != nil {
		if ce, ok := err.(*control.Error); ok && ce.Code == 401 {
			m.SetStatus("Not authorized; use -u user:pass")
		} else {
			m.SetStatus(fmt.Sprintf("Cannot load workers: %v", err))
		}
		m.SetLevel(LevelError)
		m.lines = nil
		m.styles = nil
		m.items = nil
		m.width, m.height = 0, 0
		m.SetKeys([]string{"[Q] Quit", "[H] Help", "[L] Log"})
		return
	}

	m.nfailed = 0
	m.nstopped = 0
	m.nrunning = 0
	m.height = 0
	m.width = 0

	lines := make([]string, 0, len(items))
	styles := make([]tcell.Style, 0, len(items))
	for i := range items {
		info := &items[i]
		line := fmt.Sprintf("%-24s %-16s %7d %-10s %10s  %s",
			info.Name, info.Role, info.Pid, util.Status(info),
			util.Uptime(info), info.Error)

		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++
		lines = append(lines, line)

		switch {
		case info.Error != "":
			m.nfailed++
		case info.State == "running":
			m.nrunning++
		default:
			m.nstopped++
		}
		styles = append(styles, styleOf(info))
	}
	m.lines = lines
	m.styles = styles

	m.SetStatus(fmt.Sprintf("%6d Workers %6d Failed %6d Running %6d Stopped",
		len(items), m.nfailed, m.nrunning, m.nstopped))

	switch {
	case m.nfailed > 0:
		m.SetLevel(LevelError)
	case m.nstopped > 0:
		m.SetLevel(LevelWarn)
	case m.nrunning > 0:
		m.SetLevel(LevelGood)
	default:
		m.SetLevel(LevelNormal)
	}

	words := []string{"[Q] Quit", "[H] Help"}
	if m.selected != "" {
		words = append(words, "[I] Info")
	}
	words = append(words, "[L] Log", "[B] Backups", "[R] Restart")
	m.SetKeys(words)
}
