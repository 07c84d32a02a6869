package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/streetview-ingestor/internal/metrics"
	"github.com/JakeFAU/streetview-ingestor/internal/storage/postgres"
)

// RunReader loads persisted run rows.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (postgres.Run, error)
}

// Server wires the ops routes.
type Server struct {
	router chi.Router
	runs   RunReader
	logger *zap.Logger
	srv    *http.Server
}

// NewServer constructs a Server. runs may be nil, in which case the run route is not mounted.
func NewServer(runs RunReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if runs != nil {
		r.Get("/v1/runs/{run_id}", s.getRun)
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background. Listener errors are logged.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("ops server started", zap.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", zap.Error(err))
		}
	}()
}

// Shutdown stops a started server. It is a no-op when Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Points       int        `json:"points"`
	Processed    int        `json:"processed"`
	Stored       int        `json:"stored"`
	Skipped      int        `json:"skipped"`
	Failed       int        `json:"failed"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		s.logger.Error("get run failed", zap.String("run_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		ID:           run.ID.String(),
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Points:       run.Totals.Points,
		Processed:    run.Totals.Processed,
		Stored:       run.Totals.Stored,
		Skipped:      run.Totals.Skipped,
		Failed:       run.Totals.Failed,
		ErrorMessage: run.ErrorMessage,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
