// Package web exposes the import pipeline over HTTP.
package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/web/middleware"
)

// Importer is the part of core.Service the handlers use.
type Importer interface {
	RunImport(ctx context.Context, req core.ImportRequest) (*core.Report, error)
	RollbackImport(ctx context.Context, principal string, key core.Key, token string) (int64, error)
	DescribeDestination(ctx context.Context, key core.Key) (core.ImportConfiguration, error)
	LimiterStatus() core.ImportLimiterStatus
	Ping(ctx context.Context) error
}

// Uploads stores request files for the duration of a session.
type Uploads interface {
	Save(name string, r io.Reader) (string, error)
	Remove(path string) error
}

// Server is the HTTP server for the import API.
type Server struct {
	importer Importer
	uploads  Uploads
	cfg      *config.Config
	gatherer prometheus.Gatherer
	validate *validator.Validate
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server. gatherer backs the metrics endpoint and may be
// nil when metrics are disabled.
func NewServer(importer Importer, uploads Uploads, cfg *config.Config, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		importer: importer,
		uploads:  uploads,
		cfg:      cfg,
		gatherer: gatherer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimit(s.cfg.Rate.RequestsPerMinute))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.gatherer != nil {
		s.router.Method(http.MethodGet, s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/import", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Get("/config", s.handleDescribeDestination)
		r.Post("/rollback", s.handleRollback)

		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(newRateLimit(s.cfg.Rate.ImportLimit))
			}
			r.Post("/run", s.handleRun)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.importer.LimiterStatus()
	if err := s.importer.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSONBody(w, map[string]any{"status": "unavailable", "imports": status})
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "imports": status})
}
