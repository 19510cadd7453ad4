package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odvcencio/sidebar/pkg/config"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/server"
)

type sidebarServer interface {
	Start(ctx context.Context) error
	SetConfig(cfg *config.Config)
}

var serveNewServerFn = func(opts server.Options) sidebarServer {
	return server.New(opts)
}

func runServeCommand(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file layered over the default locations (reloaded on change)")
	addr := fs.String("addr", "", "address to bind (overrides server.address)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if a := strings.TrimSpace(*addr); a != "" {
		cfg.Server.Address = a
	}

	rt, err := newRuntime(cfg, "serve", stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := serveNewServerFn(server.Options{
		Config: cfg,
		Cache:  rt.cache,
		Hub:    rt.hub,
		Logger: rt.logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *configPath != "" {
		go watchConfig(ctx, *configPath, srv, rt.logger)
	}
	return srv.Start(ctx)
}

// watchConfig applies reloaded configs to srv. Invalid reloads are logged
// and the running config is kept.
func watchConfig(ctx context.Context, path string, srv sidebarServer, logger *logging.Logger) {
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			_ = logger.Warn(logging.CategoryConfig, "config.reload_failed", "config reload rejected", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
			return
		}
		srv.SetConfig(cfg)
		_ = logger.Info(logging.CategoryConfig, "config.reloaded", "config reloaded", map[string]any{"path": path})
	})
	if err != nil {
		_ = logger.Error(logging.CategoryConfig, "config.watch_failed", "config watcher stopped", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
}
