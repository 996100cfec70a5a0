// Package api serves the distribution trigger and the winners feed over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/observability"
	"solana-holder-lottery/internal/orchestrator"
)

// Distributor runs and reports distribution cycles.
type Distributor interface {
	Trigger(ctx context.Context) (*orchestrator.RunResult, error)
	Status(ctx context.Context) (*orchestrator.StatusResult, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config configures a Server.
type Config struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// HealthChecks run on /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
	Logger       *slog.Logger
}

// Server is the HTTP surface of the service.
type Server struct {
	router chi.Router
	dist   Distributor
	clock  *cycle.Clock
	checks map[string]HealthCheck
	log    *slog.Logger
}

// NewServer creates a Server.
func NewServer(dist Distributor, clock *cycle.Clock, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if clock == nil {
		clock = cycle.NewClock(nil, cycle.DefaultPeriod)
	}
	s := &Server{
		router: chi.NewRouter(),
		dist:   dist,
		clock:  clock,
		checks: cfg.HealthChecks,
		log:    cfg.Logger.With("component", "api"),
	}
	s.setupRoutes(cfg.AllowedOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(s.metricsMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/claim", s.handleTrigger)
		r.Post("/claim", s.handleStatus)
		r.Get("/status", s.handleStatus)
	})
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", observability.Handler())
}

// metricsMiddleware records every request by route pattern and status.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, status)
		s.log.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
