package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kite/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, svc Services, version string) *Server {
	handler := NewHandler(repo, cache, svc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Provider callbacks carry the tenant in the signed payload.
	router.Post("/webhooks/voice", handler.VoiceWebhook)

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", handler.CreateCase)
			r.Get("/", handler.ListCases)
			r.Get("/{id}", handler.GetCase)
			r.Patch("/{id}/status", handler.UpdateCaseStatus)
			r.Post("/{id}/reopen", handler.ReopenCase)
			r.Post("/{id}/payments", handler.RecordCasePayment)
			r.Post("/{id}/evaluate", handler.EvaluateCase)
			r.Get("/{id}/calls", handler.ListCaseCalls)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Get("/{id}", handler.GetRule)
			r.Put("/{id}", handler.UpdateRule)
			r.Delete("/{id}", handler.DeleteRule)
			r.Post("/{id}/reorder", handler.ReorderRule)
		})

		r.Get("/executions", handler.ListExecutions)
		r.Get("/executions/summary", handler.ExecutionSummary)

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", handler.CreatePlan)
			r.Get("/{id}", handler.GetPlan)
			r.Post("/{id}/accept", handler.AcceptPlan)
			r.Post("/{id}/cancel", handler.CancelPlan)
			r.Post("/{id}/payments", handler.RecordPlanPayment)
			r.Get("/{id}/installments", handler.ListInstallments)
			r.Get("/{id}/overdue", handler.ListOverdueInstallments)
		})
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
