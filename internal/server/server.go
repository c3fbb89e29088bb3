package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/sandbox"
	"github.com/michaelbrown/labforge/internal/storage"
)

// LabRunner executes lab attempts.
type LabRunner interface {
	RunLabStreaming(ctx context.Context, labID int64, code, submitterID string, onLine func(sandbox.Line)) lab.Result
}

// Server is the HTTP server for the lab runner API.
type Server struct {
	runner LabRunner
	store  storage.Store
	runs   *RunManager
	logger *slog.Logger
	router chi.Router
	http   *http.Server

	wsWriteWait time.Duration
}

// New creates a new Server.
func New(runner LabRunner, store storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner: runner,
		store:  store,
		runs:   NewRunManager(),
		logger: logger,
		router: chi.NewRouter(),

		wsWriteWait: wsWriteWait,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/labs", s.handleListLabs)

		r.Group(func(r chi.Router) {
			r.Use(requireSubmitter)

			r.Get("/labs/{id}", s.handleGetLab)
			r.Post("/labs/{id}/submit", s.handleSubmit)
			r.Get("/labs/{id}/submissions", s.handleListSubmissions)

			// WebSocket (no JSON content-type)
			r.Get("/labs/{id}/ws", s.handleWebSocket)

			r.Get("/runs", s.handleListRuns)
			r.Delete("/runs/{id}", s.handleCancelRun)
		})
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("labforge server starting", "addr", "http://localhost"+addr)
	return s.http.ListenAndServe()
}

// Shutdown cancels in-flight runs and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.runs.CloseAll()

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
