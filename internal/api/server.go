// Package api exposes the read-only ops HTTP interface: liveness, metrics,
// and the checkpoint/run-stat views an operator reviews after a sync.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/licitabr/pncp-mirror/internal/store"
)

// Checkpoints is the read surface the server needs from the checkpoint store.
type Checkpoints interface {
	List(ctx context.Context) ([]store.Checkpoint, error)
}

// RunStats is the read surface the server needs from the run-stat store.
type RunStats interface {
	ListRecent(ctx context.Context, limit int) ([]store.RunStat, error)
}

// Server wires HTTP handlers to the stores.
type Server struct {
	router      chi.Router
	checkpoints Checkpoints
	runs        RunStats
	logger      *zap.Logger
}

// NewServer constructs a Server with routes registered.
func NewServer(checkpoints Checkpoints, runs RunStats, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{checkpoints: checkpoints, runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/checkpoints", s.listCheckpoints)
		r.Get("/runs", s.listRuns)
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Ready once the stores answer; List on an empty table is cheap.
	if _, err := s.checkpoints.List(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.checkpoints.List(r.Context())
	if err != nil {
		s.logger.Error("list checkpoints failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, cps)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	stats, err := s.runs.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", zap.Error(err))
	}
}
