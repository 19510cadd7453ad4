package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/odvcencio/sidebar/pkg/logging"
)

// runLogsCommand prints the tail of a session log, or of errors.jsonl
// when -errors is set.
func runLogsCommand(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file layered over the default locations")
	count := fs.Int("n", 20, "number of events to print")
	errorsOnly := fs.Bool("errors", false, "read the shared error log")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if *count <= 0 {
		return withExitCode(fmt.Errorf("-n must be positive"), exitUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dir := cfg.LogDir()
	if dir == "" {
		return withExitCode(fmt.Errorf("logging.dir is not set; events go to stderr"), exitConfig)
	}

	path := filepath.Join(dir, "errors.jsonl")
	if !*errorsOnly {
		name := "serve"
		if fs.NArg() > 0 {
			name = fs.Arg(0)
		}
		path = filepath.Join(dir, "sessions", name+".jsonl")
	}

	events, err := logging.ReadRecentEvents(path, *count)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintln(stdout, formatEvent(ev))
	}
	return nil
}

func formatEvent(ev logging.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %-9s %s", ev.Timestamp.Format("2006-01-02T15:04:05.000"), ev.Level, ev.Category, ev.EventType)
	if ev.TargetID != "" {
		fmt.Fprintf(&b, " target=%s", ev.TargetID)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " %q", ev.Message)
	}
	return b.String()
}
