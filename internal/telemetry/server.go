package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshotter supplies the point-in-time fields the /snapshot endpoint
// serves. The simulator's wiring layer implements this over its own state
// rather than telemetry depending on the quoting/execution packages.
type Snapshotter interface {
	Snapshot() any
}

// Server exposes /metrics (Prometheus text format) and /snapshot (JSON) on
// the configured port. Read-only: it never accepts commands.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewServer builds a telemetry HTTP server bound to addr.
func NewServer(addr string, metrics *Metrics, snap Snapshotter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap.Snapshot())
	})

	return &Server{
		httpSrv: &http.Server{Addr: addr, Handler: mux},
		logger:  logger.With("component", "telemetry_server"),
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telemetry server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
