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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

// KeyBar shows the keys available on a screen.  In each word the text
// between brackets is highlighted, so "[Q] Quit" shows Q in the
// alternate style.
type KeyBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (k *KeyBar) Init() {
	k.once.Do(func() {
		normal := tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
		alternate := tcell.StyleDefault.
			Foreground(tcell.ColorNavy).
			Background(tcell.ColorSilver).Bold(true)

		k.SimpleStyledTextBar.Init()
		k.SimpleStyledTextBar.SetStyle(normal)
		k.RegisterLeftStyle('N', normal)
		k.RegisterLeftStyle('A', alternate)
	})
}

// markup converts a key word into styled text bar markup.
func markup(w string) string {
	var sb strings.Builder
	esc := false
	for _, r := range w {
		switch {
		case r == '%':
			sb.WriteString("%%")
		case r == '[' && !esc:
			sb.WriteString("[%A")
			esc = true
		case r == ']' && esc:
			sb.WriteString("%N]")
			esc = false
		default:
			sb.WriteRune(r)
		}
	}
	if esc {
		sb.WriteString("%N")
	}
	return sb.String()
}

func (k *KeyBar) SetKeys(words []string) {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			parts = append(parts, markup(w))
		}
	}
	k.SetLeft(strings.Join(parts, "  "))
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.Init()
	return kb
}
