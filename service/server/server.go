package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sablefin/mintd/service/metrics"
	"github.com/sablefin/mintd/service/mpt"
)

// Server is the HTTP front end for the token lifecycle service.
type Server struct {
	addr         string
	orchestrator *mpt.Orchestrator
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics collector is optional - if nil, the /metrics endpoint
// won't be available.
func New(addr string, orchestrator *mpt.Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		orchestrator: orchestrator,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// instrument wraps a handler with HTTP metrics under a stable name.
	instrument := func(name string, h http.Handler) http.Handler {
		if s.metrics == nil {
			return h
		}
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Issuance routes
	mux.Handle("POST /api/v1/issuances", instrument("create_issuance", handleCreateIssuance(s.orchestrator, s.logger)))
	mux.Handle("GET /api/v1/issuances", instrument("list_issuances", handleListIssuances(s.orchestrator, s.logger)))
	mux.Handle("GET /api/v1/issuances/{id}", instrument("get_issuance", handleGetIssuance(s.orchestrator, s.logger)))

	// Authorization routes
	mux.Handle("POST /api/v1/issuances/{id}/authorizations", instrument("authorize_holder", handleAuthorizeHolder(s.orchestrator, s.logger)))
	mux.Handle("GET /api/v1/issuances/{id}/authorizations", instrument("list_authorizations", handleListAuthorizations(s.orchestrator, s.logger)))
	mux.Handle("POST /api/v1/authorizations/confirm", instrument("confirm_authorization", handleConfirmAuthorization(s.orchestrator, s.logger)))

	// Transfer and control routes
	mux.Handle("POST /api/v1/transfers", instrument("transfer", handleTransfer(s.orchestrator, s.logger)))
	mux.Handle("POST /api/v1/issuances/{id}/freeze", instrument("freeze", handleFreeze(s.orchestrator, s.logger)))
	mux.Handle("POST /api/v1/issuances/{id}/clawback", instrument("clawback", handleClawback(s.orchestrator, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
