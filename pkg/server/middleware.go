package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/logging"
)

// authMiddleware enforces server.auth_token on the API. Browsers cannot
// set headers on a websocket upgrade, so the stream may pass the token as
// ?access_token= instead. With no token configured the API is open for
// reads only; see requireTokenMiddleware.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Load().Server.AuthToken
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !tokenMatches(requestToken(r), want) {
			_ = s.logger.Warn(logging.CategoryServer, "auth.rejected", "request rejected", map[string]any{
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="sidebar"`)
			respondError(w, http.StatusUnauthorized, sberrors.New(sberrors.ErrCodeUnauthorized, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireTokenMiddleware guards destructive routes: they are refused
// outright when no auth token is configured.
func (s *Server) requireTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Load().Server.AuthToken == "" {
			respondError(w, http.StatusForbidden, sberrors.New(sberrors.ErrCodeUnauthorized, "server.auth_token must be set to use this endpoint"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	if websocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// originAllowed admits requests without an Origin header (non-browser
// clients), same-origin requests and origins listed in
// server.allowed_origins. "*" admits every origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	for _, allowed := range s.cfg.Load().Server.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || strings.EqualFold(allowed, normalized) {
			return true
		}
	}
	return false
}
