package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/bills", func(r chi.Router) {
		r.Post("/", handler.SubmitBill)
		r.Get("/{claimID}", handler.GetBill)
		r.Post("/{claimID}/evaluate", handler.EvaluateBill)
		r.Get("/{claimID}/compliance-checks", handler.ListComplianceChecks)
	})

	router.Post("/evaluations/batch", handler.BatchEvaluate)
	router.Get("/evaluations/{id}", handler.GetEvaluation)

	router.Post("/billing-codes", handler.SaveBillingCode)
	router.Get("/billing-codes/{code}", handler.GetBillingCode)

	router.Post("/score", handler.Score)
	router.Route("/scoring", func(r chi.Router) {
		r.Put("/weights", handler.UpdateWeights)
		r.Put("/thresholds", handler.UpdateThresholds)
		r.Get("/stats", handler.ScoringStats)
	})

	router.Post("/anomaly/amounts", handler.DetectAmountAnomalies)
	router.Post("/anomaly/spikes", handler.DetectSpikes)

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/reload", handler.ReloadRules)
	})

	router.Get("/stats", handler.Stats)

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
