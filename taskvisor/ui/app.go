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

// Package ui is the terminal interface of the taskvisor command.
package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"github.com/rs/zerolog"

	"github.com/taskvisor/taskvisor"
	"github.com/taskvisor/taskvisor/control"
	"github.com/taskvisor/taskvisor/taskvisor/util"
)

// refreshInterval is how often the worker table and log are polled.
const refreshInterval = 2 * time.Second

type App struct {
	app    *views.Application
	view   views.View
	panel  views.Widget
	info   *InfoPanel
	help   *HelpPanel
	log    *LogPanel
	main   *MainPanel
	output *OutputPanel
	client *control.Client
	server string
	logger zerolog.Logger

	// Everything below is only touched on the application goroutine.
	status  *control.Status
	err     error
	records []taskvisor.LogRecord
	logErr  error

	quit chan struct{}
	once sync.Once

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(name string) {
	a.info.SetName(name)
	a.show(a.info)
}

// ShowLog shows the supervisor log, limited to one worker unless name
// is empty.
func (a *App) ShowLog(name string) {
	a.log.SetName(name)
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

// run performs an action in the background and shows its result on the
// output panel.
func (a *App) run(title string, fn func(context.Context) (*control.Result, error)) {
	a.output.Start(title)
	a.show(a.output)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		res, e := fn(ctx)
		a.app.PostFunc(func() {
			a.output.Finish(title, res, e)
			a.app.Update()
		})
	}()
}

func (a *App) BackupStatus() {
	a.run("Backup status", func(ctx context.Context) (*control.Result, error) {
		return a.client.BackupStatus(ctx, "")
	})
}

func (a *App) Restart() {
	a.run("Restart", func(ctx context.Context) (*control.Result, error) {
		if e := a.client.Restart(ctx); e != nil {
			return nil, e
		}
		return &control.Result{Success: true, Payload: "Supervisor is restarting"}, nil
	})
}

func (a *App) Quit() {
	a.once.Do(func() {
		close(a.quit)
	})
	a.app.Quit()
}

func (a *App) Logf(format string, v ...interface{}) {
	a.logger.Debug().Msgf(format, v...)
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) Server() string {
	return a.server
}

func (a *App) GetAppName() string {
	return "Taskvisor"
}

// GetItems returns the sorted worker table, as last fetched.
func (a *App) GetItems() ([]taskvisor.WorkerInfo, error) {
	if a.status == nil {
		return nil, a.err
	}
	return a.status.Workers, a.err
}

func (a *App) GetItem(name string) (*taskvisor.WorkerInfo, error) {
	items, e := a.GetItems()
	if e != nil {
		return nil, e
	}
	for i := range items {
		if items[i].Name == name {
			return &items[i], nil
		}
	}
	return nil, errors.New("Worker not found")
}

// GetLog returns the log records fetched so far.
func (a *App) GetLog() ([]taskvisor.LogRecord, error) {
	return a.records, a.logErr
}

// refresh keeps the app items current.
func (a *App) refresh() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	last := int64(0)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		st, e := a.client.Status(ctx)
		if st != nil {
			util.SortWorkers(st.Workers)
		}
		rep, le := a.client.Log(ctx, last)
		cancel()
		if rep != nil {
			last = rep.Id
		}

		a.app.PostFunc(func() {
			a.status = st
			a.err = e
			a.logErr = le
			// Nil records mean nothing changed.
			if rep != nil && rep.Records != nil {
				a.records = rep.Records
			}
			a.app.Update()
		})

		select {
		case <-a.quit:
			return
		case <-ticker.C:
		}
	}
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	defer a.once.Do(func() { close(a.quit) })
	return a.app.Run()
}

// NewApp returns an App talking to server through client.
func NewApp(client *control.Client, server string, logger zerolog.Logger) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.server = server
	app.logger = logger
	app.quit = make(chan struct{})
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.output = NewOutputPanel(app)
	app.main = NewMainPanel(app)
	app.panel = app.main

	return app
}
