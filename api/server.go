package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/engine"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	maxBodySize       = 1 << 20 // 1 MB
)

// Server wraps the chi router and the engine it serves.
type Server struct {
	router  *chi.Mux
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *httpMetrics
	gather  prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry registers the HTTP metrics with reg and serves reg on
// /metrics. The default is the global Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = newHTTPMetrics(reg)
		s.gather = reg
	}
}

// NewServer creates a Server with every route registered.
func NewServer(eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		engine: eng,
		logger: logger,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.metrics == nil {
		srv.metrics = newHTTPMetrics(prometheus.DefaultRegisterer)
		srv.gather = prometheus.DefaultGatherer
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(srv.metrics.middleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler(s.gather))

	s.router.Route("/task/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetTask)
		r.Post("/claim", s.handleClaimTask)
		r.Post("/unclaim", s.handleUnclaimTask)
		r.Post("/complete", s.handleCompleteTask)
	})

	s.router.Route("/execution", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Post("/", s.handleQueryExecutions)
		r.Get("/count", s.handleCountExecutions)
		r.Post("/count", s.handleQueryExecutionCount)
		r.Get("/{id}", s.handleGetExecution)
		r.Get("/{id}/localVariables", s.handleGetLocalVariables)
		r.Post("/{id}/{transition}", s.handleTransitionExecution)
	})

	s.router.Route("/job", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/count", s.handleCountJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Put("/{id}/retries", s.handleSetJobRetries)
		r.Delete("/{id}", s.handleCancelJob)
	})

	s.router.Get("/incident", s.handleListIncidents)
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts the HTTP
// server down within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// ── Responses ───────────────────────────────────────

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusFor maps an error to its HTTP status by kind.
func StatusFor(err error) int {
	switch bpmcore.Kind(err) {
	case "":
		return http.StatusOK
	case "ValidationError", "TypeMismatchError", "UnsupportedOperationError":
		return http.StatusBadRequest
	case "NotFoundError":
		return http.StatusNotFound
	case "IllegalStateError", "LockConflictError":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	s.writeJSON(w, status, ErrorResponse{Type: bpmcore.Kind(err), Message: err.Error()})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %w", bpmcore.ErrValidation, err)
	}
	return nil
}

type countResponse struct {
	Count int64 `json:"count"`
}
