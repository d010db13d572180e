// Package api exposes the rule-authoring and evaluation platform over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, rules *service.Rules, rulesets *service.Rulesets, executor *decision.Executor, catalog *domain.FieldCatalog, store domain.Store, cache domain.Cache, version string) *Server {
	handler := NewHandler(rules, rulesets, executor, catalog, store, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no actor required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (actor required)
	router.Route("/", func(r chi.Router) {
		r.Use(ActorMiddleware)

		// Field catalog
		r.Get("/fields", handler.ListFields)

		// Rule authoring
		r.Post("/rules", handler.CreateRule)
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{ruleID}", handler.GetRule)
		r.Patch("/rules/{ruleID}", handler.PatchRule)
		r.Post("/rules/{ruleID}/versions", handler.CreateDraftVersion)
		r.Get("/rules/{ruleID}/versions", handler.ListRuleVersions)

		r.Get("/rule-versions/{versionID}", handler.GetRuleVersion)
		r.Patch("/rule-versions/{versionID}", handler.PatchRuleVersion)
		r.Post("/rule-versions/{versionID}/approve", handler.ApproveRuleVersion)
		r.Post("/rule-versions/{versionID}/evaluate", handler.TryEvaluateRuleVersion)

		// Ruleset lifecycle
		r.Post("/rulesets", handler.CreateRuleset)
		r.Get("/rulesets", handler.ListRulesets)
		r.Get("/rulesets/{rulesetID}", handler.GetRuleset)
		r.Post("/rulesets/{rulesetID}/versions", handler.CreateNextRulesetVersion)
		r.Post("/rulesets/{rulesetID}/versions/{versionID}/activate", handler.RollbackActivate)
		r.Post("/rulesets/{rulesetID}/execute", handler.ExecuteRuleset)

		r.Get("/ruleset-versions", handler.QueryRulesetVersions)
		r.Get("/ruleset-versions/{versionID}", handler.GetRulesetVersion)
		r.Patch("/ruleset-versions/{versionID}/settings", handler.UpdateRulesetVersionSettings)
		r.Post("/ruleset-versions/{versionID}/approve", handler.ApproveRulesetVersion)
		r.Post("/ruleset-versions/{versionID}/activate", handler.ActivateRulesetVersion)

		// Entries
		r.Get("/ruleset-versions/{versionID}/entries", handler.QueryEntries)
		r.Post("/ruleset-versions/{versionID}/entries", handler.AddEntry)
		r.Patch("/entries/{entryID}", handler.PatchEntry)
		r.Delete("/entries/{entryID}", handler.DeleteEntry)
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
