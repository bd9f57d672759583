// Package api provides the HTTP interface to the automation engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-commerce/kestrel/internal/actions"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/observability"
	"github.com/opensource-commerce/kestrel/internal/resolution"
	"github.com/opensource-commerce/kestrel/internal/rules"
	"github.com/opensource-commerce/kestrel/internal/scheduler"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, evaluator *rules.Evaluator, executor *actions.Executor, runner *scheduler.Scheduler, resolutionSvc *resolution.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, evaluator, executor, runner, resolutionSvc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", observability.Handler())

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/run", handler.RunRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/{id}/enable", handler.EnableRule)
		r.Post("/rules/{id}/disable", handler.DisableRule)
		r.Get("/rules/{id}/executions", handler.ListExecutions)

		// Approval queue
		r.Get("/approvals", handler.ListApprovals)
		r.Post("/approvals/{id}/approve", handler.ApproveAction)
		r.Post("/approvals/{id}/reject", handler.RejectAction)

		// Pre-shipment issues
		r.Get("/issues", handler.ListIssues)
		r.Post("/issues", handler.CreateIssue)
		r.Get("/issues/{id}", handler.GetIssue)
		r.Get("/issues/{id}/proposals", handler.GetProposals)
		r.Post("/issues/{id}/resolve", handler.ResolveIssue)
		r.Get("/issues/{id}/resolutions", handler.ListResolutions)

		// In-app notifications
		r.Get("/notifications", handler.ListNotifications)
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
