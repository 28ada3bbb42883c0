// Package infoserver provides an HTTP server that exposes monitor health, status and metrics.
package infoserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/affiliatedkat/sourcify/monitor"
	"github.com/affiliatedkat/sourcify/monitor/pkg/health"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// HealthResponse is the response format for the /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// Phase represents the current lifecycle phase of the monitor.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseActive   Phase = "active"
	PhaseStopping Phase = "stopping"
)

// StatusProvider reports the monitor's chains and fetcher state along with
// its component health.
type StatusProvider interface {
	health.Reporter
	Status(ctx context.Context) monitor.Status
}

// Server is an HTTP server that exposes monitor information.
type Server struct {
	httpServer *http.Server
	lggr       logger.Logger
	status     StatusProvider

	mu    sync.RWMutex
	phase Phase
}

// New creates a new info server. /metrics serves the default Prometheus gatherer
// when metricsEnabled is set.
func New(addr string, status StatusProvider, metricsEnabled bool, lggr logger.Logger) *Server {
	s := &Server{
		status: status,
		phase:  PhaseInit,
		lggr:   logger.With(lggr, "component", "InfoServer"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	if metricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// Start starts the HTTP server. This is a blocking call.
func (s *Server) Start() error {
	s.lggr.Infow("Starting info server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lggr.Infow("Shutting down info server")
	return s.httpServer.Shutdown(ctx)
}

// SetPhase updates the current lifecycle phase.
func (s *Server) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// GetPhase returns the current lifecycle phase.
func (s *Server) GetPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	phase := s.GetPhase()
	resp := HealthResponse{Status: "ok", Phase: string(phase)}
	code := http.StatusOK
	if phase != PhaseActive {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := health.NewAliveResponse()
	s.writeJSON(w, resp.StatusCode(), resp)
}

// handleReady reports not ready outside the active phase or while any
// component is unhealthy.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	svc := health.NewServiceHealth(s.status)
	if phase := s.GetPhase(); phase != PhaseActive {
		svc.Status = health.NotReady
		svc.Error = "phase " + string(phase)
	}
	resp := health.NewReadinessResponse([]health.ServiceHealth{svc})
	s.writeJSON(w, resp.StatusCode(), resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.lggr.Errorw("Failed to encode response", "error", err)
	}
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
