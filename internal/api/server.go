// Package api exposes the HTTP surface: evaluation intake, decision
// retrieval, merchant administration and health endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/theomodesto/fraudshield/internal/decision"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/evaluator"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/metrics"
	"github.com/theomodesto/fraudshield/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	ev *evaluator.Evaluator,
	dec *decision.Decisioner,
	store *merchant.Store,
	repo domain.Repository,
	cache domain.Cache,
	eventBus domain.EventBus,
	engine *rules.Engine,
	captchaSiteKey string,
	version string,
) *Server {
	handler := NewHandler(ev, dec, store, repo, cache, eventBus, engine, captchaSiteKey, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Evaluation intake, called from merchant storefronts
	router.Post("/evaluate", handler.Evaluate)
	router.Post("/evaluate/captcha", handler.VerifyCaptcha)

	// Decisioning, called from merchant backends
	router.Post("/decisions", handler.CreateDecision)
	router.Get("/decisions/{id}", handler.GetDecision)

	// Merchant administration
	router.Route("/merchants/{merchantId}", func(r chi.Router) {
		r.Get("/settings", handler.GetMerchantSettings)
		r.Put("/settings", handler.UpdateMerchantSettings)
		r.Get("/rules", handler.ListMerchantRules)
		r.Post("/rules", handler.CreateMerchantRule)
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
