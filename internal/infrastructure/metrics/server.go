package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"position_copier/internal/core"
	"position_copier/internal/infrastructure/health"
)

// Server exposes Prometheus metrics plus read-only JSON views of the
// copier's state: status, change history, and copy history.
type Server struct {
	port   int
	copier core.ICopier
	ledger core.ILedger
	health *health.HealthManager
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates a new metrics and status server. healthManager may be
// nil, in which case /healthz always answers ok.
func NewServer(port int, copier core.ICopier, ledger core.ILedger, healthManager *health.HealthManager, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		copier: copier,
		ledger: ledger,
		health: healthManager,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start starts the HTTP server in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/changes", s.handleChanges)
	mux.HandleFunc("/copies", s.handleCopies)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !s.health.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, s.health.GetStatus())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.copier.GetStatus())
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ledger.Changes())
}

func (s *Server) handleCopies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ledger.Copies())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
