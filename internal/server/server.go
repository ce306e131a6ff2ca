// Package server exposes the thin HTTP surface the dashboard UI calls.
// Every handler is a caller of the sync core; no view logic lives here.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/florawren/clawboard/internal/aggregator"
	"github.com/florawren/clawboard/internal/auth"
	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/notify"
)

// SessionCookie carries the operator session credential
const SessionCookie = "clawboard_session"

// Config holds HTTP server settings
type Config struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`

	// WSURL is the realtime transport URL advertised to clients.
	// Empty means the deployment has no realtime transport and clients
	// operate in degraded/polling mode.
	WSURL string `toml:"ws_url"`

	// RoutineModel is the model attached to cron payloads created here
	RoutineModel string `toml:"routine_model"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Address:      "0.0.0.0",
		Port:         8090,
		RoutineModel: "claude-sonnet-4-5",
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}

// Server wires the sync core behind HTTP handlers
type Server struct {
	config        Config
	logger        *slog.Logger
	authn         *auth.Authenticator
	gw            *gateway.Client
	agg           *aggregator.Aggregator
	notifications *notify.Store

	httpSrv *http.Server
}

// New creates a server over the given core components
func New(config Config, authn *auth.Authenticator, gw *gateway.Client, agg *aggregator.Aggregator, notifications *notify.Store, logger *slog.Logger) *Server {
	return &Server{
		config:        config,
		logger:        logger,
		authn:         authn,
		gw:            gw,
		agg:           agg,
		notifications: notifications,
	}
}

// Handler builds the route table wrapped in the auth guard
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/gateway/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/gateway/health", s.handleHealth)

	mux.HandleFunc("GET /api/gateway/routines", s.handleRoutinesList)
	mux.HandleFunc("POST /api/gateway/routines", s.handleRoutineCreate)
	mux.HandleFunc("PATCH /api/gateway/routines/{id}", s.handleRoutineUpdate)
	mux.HandleFunc("DELETE /api/gateway/routines/{id}", s.handleRoutineDelete)
	mux.HandleFunc("POST /api/gateway/routines/{id}/trigger", s.handleRoutineTrigger)

	mux.HandleFunc("GET /api/cluster/ws-token", s.handleWSToken)
	mux.HandleFunc("/api/cluster/", s.handleProxy)

	mux.HandleFunc("GET /api/notifications", s.handleNotificationsList)
	mux.HandleFunc("PATCH /api/notifications", s.handleNotificationsPatchAll)
	mux.HandleFunc("DELETE /api/notifications", s.handleNotificationsDeleteAll)
	mux.HandleFunc("PATCH /api/notifications/{id}", s.handleNotificationPatch)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.handleNotificationDelete)

	return s.requireSession(mux)
}

// Start runs the HTTP server until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http api listening", "address", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// publicPaths do not require an operator session
var publicPaths = []string{
	"/api/auth/login",
	"/api/auth/logout",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// requireSession validates the operator session on every request except the
// public auth endpoints. Verification fails closed; API callers get 401,
// page requests are redirected to the login screen.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !s.authn.VerifySession(sessionToken(r)) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			} else {
				http.Redirect(w, r, "/login", http.StatusFound)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sessionToken extracts the credential from cookie or bearer header
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
