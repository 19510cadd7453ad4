package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/sidebar/pkg/config"
)

const redacted = "********"

func runConfigCommand(args []string, stdout io.Writer) error {
	subCmd := "show"
	if len(args) > 0 {
		subCmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("config "+subCmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file layered over the default locations")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	switch subCmd {
	case "check":
		return runConfigCheck(*configPath, stdout)
	case "show":
		return runConfigShow(*configPath, stdout)
	case "path":
		return runConfigPath(stdout)
	default:
		return withExitCode(fmt.Errorf("unknown config command: %s (use check, show, or path)", subCmd), exitUsage)
	}
}

func runConfigCheck(path string, stdout io.Writer) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Configuration is valid.")
	warnings := cfg.ValidationWarnings()
	if len(warnings) == 0 {
		return nil
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Warnings:")
	for _, w := range warnings {
		fmt.Fprintf(stdout, "  - %s\n", w)
	}
	return nil
}

func runConfigShow(path string, stdout io.Writer) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	shown := *cfg
	if shown.Transport.Token != "" {
		shown.Transport.Token = redacted
	}
	if shown.Server.AuthToken != "" {
		shown.Server.AuthToken = redacted
	}
	if shown.Transport.SharedLinkPassword != "" {
		shown.Transport.SharedLinkPassword = redacted
	}
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

func runConfigPath(stdout io.Writer) error {
	dir := config.UserDir()
	fmt.Fprintln(stdout, "Configuration file locations:")
	fmt.Fprintf(stdout, "  User:    %s\n", filepath.Join(dir, "config.yaml"))
	fmt.Fprintf(stdout, "  Project: %s\n", filepath.Join(".sidebar", "config.yaml"))
	fmt.Fprintf(stdout, "  Env:     %s\n", filepath.Join(dir, "config.env"))
	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintf(stdout, "  Workdir: %s\n", wd)
	}
	return nil
}
