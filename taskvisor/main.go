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

// Command taskvisor is the operator client for taskvisord.  It talks
// to the control worker and uses subcommands.
//
// The flags are
//
//	-a <address>	- control worker address, default is
//			  http://127.0.0.1:8322
//	-u <user:pass>	- user name & password for basic auth
//	-t <timeout>	- how long to wait for an action
//
// Subcommands are
//
//	workers                        - show the process table
//	query <htsql>                  - run an HTSQL query, print the JSON
//	backup-status [<hash>]         - show backup status
//	backup-restore <hash> [<time>] - restore a backup
//	restart                        - restart the supervisor
//	log [<worker>]                 - show the supervisor log
//	actions                        - list the actions the server accepts
//	ui                             - full screen interface (default)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/taskvisor/taskvisor"
	"github.com/taskvisor/taskvisor/control"
	"github.com/taskvisor/taskvisor/taskvisor/ui"
	"github.com/taskvisor/taskvisor/taskvisor/util"
)

var addr string = "http://" + taskvisor.DefaultControlListen
var auth string = ""
var timeout time.Duration = 10 * time.Minute

var logger = taskvisor.NewLogger("taskvisor", taskvisor.NewConsoleWriter(os.Stderr))

func usage() {
	fmt.Fprintf(os.Stderr,
		"Usage: %s [-a <address>] [-u <user:pass>] [-t <timeout>] <subcommand>\n",
		os.Args[0])
	os.Exit(2)
}

func fatal(e error) {
	logger.Fatal().Err(e).Msg("Failed")
}

// finish prints the result of an action, and fails if the action did.
func finish(res *control.Result, e error) {
	if e != nil {
		fatal(e)
	}
	if !res.Success {
		fmt.Fprintln(os.Stderr, res.Payload)
		os.Exit(1)
	}
	fmt.Print(res.Payload)
	if !strings.HasSuffix(res.Payload, "\n") {
		fmt.Println()
	}
}

func showWorkers(st *control.Status) {
	fmt.Printf("%s (pid %d) up %s\n", st.Name, st.Pid,
		util.FormatDuration(time.Since(st.Created)))
	util.SortWorkers(st.Workers)
	for i := range st.Workers {
		w := &st.Workers[i]
		fmt.Printf("%-24s %-16s %7d %-10s %10s %s\n", w.Name, w.Role,
			w.Pid, util.Status(w), util.Uptime(w), w.Error)
	}
}

// prettyJson indents a query result for a terminal.
func prettyJson(doc string) string {
	if !gjson.Valid(doc) {
		return doc
	}
	return gjson.Get(doc, "@pretty").Raw
}

func main() {
	flag.StringVar(&addr, "a", addr, "taskvisor control address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.DurationVar(&timeout, "t", timeout, "action timeout")
	flag.Parse()

	client := control.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			logger.Fatal().Msg("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"ui"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch args[0] {
	case "workers", "status":
		if len(args) != 1 {
			usage()
		}
		st, e := client.Status(ctx)
		if e != nil {
			fatal(e)
		}
		showWorkers(st)

	case "query":
		if len(args) != 2 {
			usage()
		}
		res, e := client.Query(ctx, args[1])
		if e == nil && res.Success {
			res.Payload = prettyJson(res.Payload)
		}
		finish(res, e)

	case "backup-status":
		if len(args) > 2 {
			usage()
		}
		hash := ""
		if len(args) == 2 {
			hash = args[1]
		}
		finish(client.BackupStatus(ctx, hash))

	case "backup-restore":
		if len(args) < 2 || len(args) > 3 {
			usage()
		}
		at := ""
		if len(args) == 3 {
			at = args[2]
		}
		finish(client.BackupRestore(ctx, args[1], at))

	case "restart":
		if len(args) != 1 {
			usage()
		}
		if e := client.Restart(ctx); e != nil {
			fatal(e)
		}
		fmt.Println("Restarting")

	case "log":
		if len(args) > 2 {
			usage()
		}
		rep, e := client.Log(ctx, 0)
		if e != nil {
			fatal(e)
		}
		for _, r := range rep.Records {
			if len(args) == 2 && r.Worker != args[1] {
				continue
			}
			fmt.Printf("%s %-5s %s %s\n", r.Time.Format(time.StampMilli),
				r.Level, r.Worker, r.Text)
		}

	case "actions":
		names, e := client.Actions(ctx)
		if e != nil {
			fatal(e)
		}
		for _, name := range names {
			fmt.Println(name)
		}

	case "ui":
		cancel()
		app := ui.NewApp(client, addr, zerolog.Nop())
		if e := app.Run(); e != nil {
			fatal(e)
		}

	default:
		usage()
	}
}
