// Package api is the HTTP boundary: a thin chi layer over the report
// pipeline, alert rule store, and case service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kestrel-insights/kestrel/internal/alerts"
	"github.com/kestrel-insights/kestrel/internal/cases"
	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/metrics"
	"github.com/kestrel-insights/kestrel/internal/report"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, rules domain.RuleStore, caseSvc *cases.Service, generator *report.Generator, engine *alerts.Engine, cache domain.Cache, store domain.CaseStore, version string) *Server {
	handler := NewHandler(rules, caseSvc, generator, engine, cache, store, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// API routes
	router.Route("/api", func(r chi.Router) {
		// Report pipeline
		r.Post("/reports", handler.CreateReport)
		r.Get("/reports/latest", handler.LatestReport)

		// Alert rule configuration
		r.Get("/alert-rules", handler.GetAlertRules)
		r.Post("/alert-rules", handler.SaveAlertRules)

		// Case management
		r.Get("/cases", handler.ListCases)
		r.Post("/cases", handler.CreateCase)
		r.Post("/cases/sample", handler.SampleCase)
		r.Put("/cases/{id}", handler.UpdateCase)
		r.Delete("/cases/{id}", handler.DeleteCase)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
