package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/odvcencio/sidebar/pkg/bus"
	"github.com/odvcencio/sidebar/pkg/cache"
	"github.com/odvcencio/sidebar/pkg/config"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/telemetry"
)

// loadConfig loads the default layers, plus path when given.
func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// appRuntime holds the process-wide collaborators a command shares with
// every sidebar it mounts.
type appRuntime struct {
	cfg    *config.Config
	logger *logging.Logger
	hub    *telemetry.Hub
	bus    bus.MessageBus
	cache  cache.Cache
	tracer *telemetry.TracerProvider

	closers []func() error
	cancel  context.CancelFunc
}

// newRuntime opens logging, tracing, the shared cache, the telemetry hub and
// the event bus. stderr receives logs when no log dir is configured and
// spans when tracing is on.
func newRuntime(cfg *config.Config, name string, stderr io.Writer) (*appRuntime, error) {
	rt := &appRuntime{cfg: cfg, hub: telemetry.NewHub()}
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	if dir := cfg.LogDir(); dir != "" {
		logger, err := logging.NewLogger(dir, name)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.logger = logger
		rt.closers = append(rt.closers, logger.Close)
	} else {
		rt.logger = logging.NewWriterLogger(stderr)
	}
	rt.logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.NewTracerProvider("sidebar", version, stderr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.tracer = tp
	}

	c, closeCache, err := cfg.OpenCache()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.cache = c
	rt.closers = append(rt.closers, closeCache)

	if url := strings.TrimSpace(cfg.Telemetry.NATSURL); url != "" {
		natsCfg := bus.DefaultConfig()
		natsCfg.URL = url
		natsCfg.Name = "sidebar-" + name
		b, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.bus = b
	} else {
		rt.bus = bus.NewMemoryBus()
	}

	go func() {
		_ = bus.Forward(ctx, rt.hub, rt.bus, cfg.Telemetry.SubjectPrefix)
	}()

	for _, warning := range cfg.ValidationWarnings() {
		_ = rt.logger.Warn(logging.CategoryConfig, "config.warning", warning, nil)
	}
	return rt, nil
}

// Close tears the runtime down in reverse order of construction.
func (rt *appRuntime) Close() {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.bus != nil {
		_ = rt.bus.Close()
	}
	rt.hub.Close()
	if rt.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = rt.tracer.Shutdown(ctx)
		cancel()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
}
