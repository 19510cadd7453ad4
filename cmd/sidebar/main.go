package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stderr)
		return 2
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion(stdout)
		return 0
	case "--help", "-h", "help":
		printHelp(stdout)
		return 0
	case "serve":
		return runCommand(stderr, func() error { return runServeCommand(args[1:], stderr) })
	case "inspect":
		return runCommand(stderr, func() error { return runInspectCommand(args[1:], stdout, stderr) })
	case "config":
		return runCommand(stderr, func() error { return runConfigCommand(args[1:], stdout) })
	case "logs":
		return runCommand(stderr, func() error { return runLogsCommand(args[1:], stdout) })
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp(stderr)
		return 2
	}
}

func runCommand(stderr io.Writer, handler func() error) int {
	if err := handler(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "sidebar - content sidebar fetch orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  sidebar <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve [-config path] [-addr host:port]")
	fmt.Fprintln(w, "                                   Serve sidebar views over HTTP")
	fmt.Fprintln(w, "  inspect [-config path] <file-id> Fetch one item and print its sidebar view")
	fmt.Fprintln(w, "  config check|show|path           Inspect configuration")
	fmt.Fprintln(w, "  logs [-n 20] [-errors] [name]    Print recent log events")
	fmt.Fprintln(w, "  version                          Print version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from ~/.sidebar/config.yaml, ./.sidebar/config.yaml")
	fmt.Fprintln(w, "and SIDEBAR_* environment variables, in increasing precedence.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "sidebar %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}
