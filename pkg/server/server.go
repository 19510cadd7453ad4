// Package server exposes sidebars over HTTP: one-shot view snapshots, cache
// control, a websocket telemetry stream and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/sidebar/pkg/cache"
	"github.com/odvcencio/sidebar/pkg/config"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/sidebar"
	"github.com/odvcencio/sidebar/pkg/telemetry"
	"github.com/odvcencio/sidebar/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Config *config.Config
	// Cache is shared by every sidebar the server mounts.
	Cache  cache.Cache
	Hub    *telemetry.Hub
	Logger *logging.Logger
	// Factory overrides the transport client constructor.
	Factory transport.Factory
}

// Server serves sidebar snapshots over HTTP.
type Server struct {
	cfg     atomic.Pointer[config.Config]
	cache   cache.Cache
	hub     *telemetry.Hub
	logger  *logging.Logger
	factory transport.Factory
	events  *eventStream
	router  chi.Router

	httpServer *http.Server
}

// New builds a server. A nil Config uses defaults and a nil Cache gets an
// in-memory one.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewMemoryWithTTL(cfg.Cache.TTL)
	}
	s := &Server{
		cache:   c,
		hub:     opts.Hub,
		logger:  opts.Logger,
		factory: opts.Factory,
	}
	s.cfg.Store(cfg)
	s.events = newEventStream(s.hub, s.logger, s.originAllowed)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(s.securityHeadersMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Get("/sidebar/{fileID}", s.handleSidebar)
		api.With(s.requireTokenMiddleware).Delete("/cache", s.handlePurgeCache)
		api.Get("/events", s.events.handleWebSocket)
	})
	return router
}

// Handler returns the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetConfig swaps the config used for requests that start afterwards.
// The listen address and cache are fixed at construction.
func (s *Server) SetConfig(cfg *config.Config) {
	if cfg != nil {
		s.cfg.Store(cfg)
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Load().Server.Address
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		_ = s.logger.Info(logging.CategoryServer, "server.listening", "serving sidebar API", map[string]any{
			"address": addr,
		})
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.events.closeAll()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return sberrors.Wrap(err, sberrors.ErrCodeInternal, "serve")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimSpace(chi.URLParam(r, "fileID"))
	if fileID == "" {
		respondError(w, http.StatusBadRequest, sberrors.New(sberrors.ErrCodeInvalidInput, "file id is required"))
		return
	}

	cfg := s.cfg.Load()
	opts := cfg.SidebarOptions(fileID)
	opts.Cache = s.cache
	opts.Hub = s.hub
	opts.Logger = s.logger
	opts.Factory = s.factory
	if r.URL.Query().Get("refresh") == "true" {
		opts.FetchOptions.RefreshCache = true
	}

	sb, err := sidebar.New(opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := sb.Mount(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer sb.Unmount()

	if !settle(r.Context(), sb, cfg.Server.SettleTimeout) {
		respondError(w, http.StatusGatewayTimeout, sberrors.New(sberrors.ErrCodeTransport, "sidebar did not settle in time").
			WithContext("file_id", fileID))
		return
	}

	view := sb.View()
	if view.Err != nil {
		respondError(w, statusForCode(view.ErrorCode), view.Err)
		return
	}
	if !view.ShouldRender {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// settle waits for the sidebar's fetches, bounded by the settle timeout
// and the request context.
func settle(ctx context.Context, sb *sidebar.Sidebar, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sb.Settled():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// handlePurgeCache empties the shared cache, or only the keys starting
// with ?prefix= (for example file_ or metadata_).
func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	keys := 0
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys++
		}
	}
	if prefix == "" {
		s.cache.Purge()
	} else {
		s.cache.UnsetAll(prefix)
	}
	s.hub.Publish(telemetry.Event{
		Type: telemetry.EventSidebarCacheCleared,
		Data: map[string]any{"keys": keys, "prefix": prefix, "source": "api"},
	})
	_ = s.logger.Info(logging.CategoryCache, "cache.purged", "cache purged via API", map[string]any{
		"keys":   keys,
		"prefix": prefix,
	})
	respondJSON(w, http.StatusOK, map[string]any{"purged": keys})
}

func statusForCode(code sberrors.ErrorCode) int {
	switch code {
	case sberrors.ErrCodeNotFound:
		return http.StatusNotFound
	case sberrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case sberrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	code := sberrors.GetCode(err)
	message := err.Error()
	if e, ok := sberrors.As(err); ok {
		message = e.Message
	}
	respondJSON(w, status, struct {
		Code    sberrors.ErrorCode `json:"code"`
		Message string             `json:"message"`
	}{Code: code, Message: message})
}
