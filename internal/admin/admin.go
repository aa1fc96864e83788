// Package admin exposes the daemon's observability surface over HTTP:
// liveness, a JSON status view of the registry, and Prometheus metrics.
// Loopback-only by default; the external channel's own access control guards
// who may decide, not this server.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/internal/core"
)

func init() {
	core.RegisterModule(&Server{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Server)(nil)
	_ core.Provisioner  = (*Server)(nil)
	_ core.Validator    = (*Server)(nil)
	_ core.Starter      = (*Server)(nil)
	_ core.Stopper      = (*Server)(nil)
)

// Config is the YAML configuration for the admin HTTP server.
type Config struct {
	// Bind is the listen address. Defaults to loopback.
	Bind string `yaml:"bind"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:7388"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Server is the admin HTTP module.
type Server struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// Resolved lazily at Start() via the service registry.
	stats      interface{ Snapshot() approval.Stats }
	history    historyReader
	configPath string
}

// historyReader is the slice of the decision log the admin surface needs.
type historyReader interface {
	Recent(ctx context.Context, limit int) ([]approval.Record, error)
	BySession(ctx context.Context, sessionID string) ([]approval.Record, error)
}

// ModuleInfo implements core.Module.
func (s *Server) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "admin.http",
		New: func() core.Module { return &Server{} },
	}
}

// Configure implements core.Configurable.
func (s *Server) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return fmt.Errorf("admin: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (s *Server) Provision(ctx *core.AppContext) error {
	s.appCtx = ctx
	s.logger = ctx.Logger
	s.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (s *Server) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", s.config.Bind); err != nil {
		return fmt.Errorf("admin: invalid bind address %q", s.config.Bind)
	}
	return nil
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth())
	r.Get("/status", s.handleStatus())
	r.Get("/decisions", s.handleDecisions())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start implements core.Starter.
func (s *Server) Start() error {
	if svc, ok := s.appCtx.Service("approval.registry"); ok {
		if reg, ok := svc.(interface{ Snapshot() approval.Stats }); ok {
			s.stats = reg
		}
	}
	if svc, ok := s.appCtx.Service("history.recorder"); ok {
		if rdr, ok := svc.(historyReader); ok {
			s.history = rdr
		}
	}
	if svc, ok := s.appCtx.Service("config.path"); ok {
		if path, ok := svc.(string); ok {
			s.configPath = path
		}
	}

	s.startedAt = time.Now()
	s.server = &http.Server{
		Addr:         s.config.Bind,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	ln, err := net.Listen("tcp", s.config.Bind)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.config.Bind, err)
	}
	s.logger.Info("admin server listening", "bind", s.config.Bind)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	ConfigPath    string         `json:"config_path,omitempty"`
	Registry      approval.Stats `json:"registry"`
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
			ConfigPath:    s.configPath,
		}
		if s.stats != nil {
			resp.Registry = s.stats.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleDecisions serves the decision log. Filters by session when the
// session query parameter is set, otherwise returns the most recent
// decisions (limit defaults to 50).
func (s *Server) handleDecisions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			http.Error(w, `{"error":"history module not configured"}`, http.StatusNotFound)
			return
		}

		var (
			records []approval.Record
			err     error
		)
		if session := r.URL.Query().Get("session"); session != "" {
			records, err = s.history.BySession(r.Context(), session)
		} else {
			limit := 0
			if raw := r.URL.Query().Get("limit"); raw != "" {
				limit, err = strconv.Atoi(raw)
				if err != nil || limit < 1 {
					http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
					return
				}
			}
			records, err = s.history.Recent(r.Context(), limit)
		}
		if err != nil {
			s.logger.Error("decision log query failed", "error", err)
			http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
			return
		}

		if records == nil {
			records = []approval.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	}
}
