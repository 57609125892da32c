// Package server hosts the HTTP surface: the webhook endpoint, a health
// probe, and a read-only run listing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hookworks/deploygate/internal/config"
	"github.com/hookworks/deploygate/internal/engine"
	"github.com/hookworks/deploygate/internal/history"
)

// Server is the HTTP front for one Engine.
type Server struct {
	service config.ServiceConfig
	engine  *engine.Engine
	store   *history.Store
	logger  *slog.Logger
	server  *http.Server
}

// New creates a Server. store may be nil; /runs then answers 404.
func New(service config.ServiceConfig, eng *engine.Engine, store *history.Store, logger *slog.Logger) *Server {
	return &Server{
		service: service,
		engine:  eng,
		store:   store,
		logger:  logger,
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. In-flight command runs are the engine's concern; callers
// should engine.Wait() after Start returns.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.service.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting", "listen", s.service.Listen, "hook_path", s.service.HookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// The engine owns method validation, so the hook path accepts any
	// method and lets validation answer "invalid request method".
	r.Handle(s.service.HookPath, s.engine)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/runs", s.handleRuns)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// No body content in logs; payloads carry commit messages and
		// pusher identities.
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RunView is the JSON shape served by /runs.
type RunView struct {
	ID          string `json:"id"`
	Event       string `json:"event"`
	Ref         string `json:"ref"`
	Branch      string `json:"branch"`
	Pusher      string `json:"pusher"`
	Status      string `json:"status"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history is not enabled", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		v := RunView{
			ID:        run.ID,
			Event:     run.Event,
			Ref:       run.Ref,
			Branch:    run.Branch,
			Pusher:    run.Pusher,
			Status:    run.Status,
			LastError: run.LastError,
			CreatedAt: run.CreatedAt.Format(time.RFC3339),
		}
		if !run.CompletedAt.IsZero() {
			v.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}
