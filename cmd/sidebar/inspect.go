package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/odvcencio/sidebar/pkg/bus"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/sidebar"
)

func runInspectCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file layered over the default locations")
	refresh := fs.Bool("refresh", false, "bypass the cached item and overwrite it")
	clearCache := fs.Bool("clear-cache", false, "purge the shared cache once the view is printed")
	timeout := fs.Duration("timeout", 0, "how long to wait for fetches (default server.settle_timeout)")
	showEvents := fs.Bool("events", false, "echo telemetry events to stderr")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return withExitCode(errors.New("usage: sidebar inspect [flags] <file-id>"), exitUsage)
	}
	fileID := strings.TrimSpace(fs.Arg(0))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, "inspect", stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *showEvents {
		var mu sync.Mutex
		sub, err := rt.bus.Subscribe(ctx, bus.Subject(cfg.Telemetry.SubjectPrefix, ">"), func(msg *bus.Message) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(stderr, "%s %s\n", msg.Subject, msg.Data)
		})
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	opts := cfg.SidebarOptions(fileID)
	opts.Cache = rt.cache
	opts.Hub = rt.hub
	opts.Logger = rt.logger
	opts.FetchOptions.RefreshCache = *refresh

	sb, err := sidebar.New(opts)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	if err := sb.Mount(ctx); err != nil {
		return err
	}
	defer sb.Unmount()

	wait := *timeout
	if wait <= 0 {
		wait = cfg.Server.SettleTimeout
	}
	if err := waitSettled(ctx, sb, wait); err != nil {
		return withExitCode(err, exitFetch)
	}

	view := sb.View()
	if *clearCache {
		if err := sb.ClearCache(); err != nil {
			return err
		}
	}
	if view.Err != nil {
		return withExitCode(view.Err, exitFetch)
	}
	if !view.ShouldRender {
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func waitSettled(ctx context.Context, sb *sidebar.Sidebar, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sb.Settled():
		return nil
	case <-timer.C:
		return sberrors.Newf(sberrors.ErrCodeTransport, "sidebar did not settle within %s", timeout)
	case <-ctx.Done():
		return sberrors.Wrap(ctx.Err(), sberrors.ErrCodeInternal, "interrupted")
	}
}
