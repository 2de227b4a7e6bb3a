package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/scheduler"
	"github.com/headline-goat/verdict/internal/significance"
	"github.com/headline-goat/verdict/internal/store"
)

type Server struct {
	store     store.Store
	eval      evaluator.Evaluator
	scheduler *scheduler.Scheduler
	analyzer  *significance.Engine
	gatherer  prometheus.Gatherer
	token     string
	logger    *slog.Logger
	router    *http.ServeMux
	startTime time.Time
}

type Option func(*Server)

// WithToken protects the API routes with a bearer token. An empty token
// leaves them open.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithScheduler exposes the scheduler's force-run and metrics routes.
func WithScheduler(sched *scheduler.Scheduler) Option {
	return func(s *Server) { s.scheduler = sched }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithAnalyzer(a *significance.Engine) Option {
	return func(s *Server) { s.analyzer = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(st store.Store, eval evaluator.Evaluator, opts ...Option) *Server {
	srv := &Server{
		store:     st,
		eval:      eval,
		gatherer:  prometheus.DefaultGatherer,
		logger:    slog.Default(),
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.analyzer == nil {
		srv.analyzer = significance.New()
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API endpoints (protected)
	s.router.Handle("POST "+evaluator.EvaluatePath, s.authMiddleware(http.HandlerFunc(s.handleEvaluate)))
	s.router.Handle("GET /api/v1/tests", s.authMiddleware(http.HandlerFunc(s.handleListTests)))
	s.router.Handle("GET /api/v1/tests/{id}/analysis", s.authMiddleware(http.HandlerFunc(s.handleAnalysis)))
	s.router.Handle("GET /api/v1/tests/{id}/conclusion", s.authMiddleware(http.HandlerFunc(s.handleLatestConclusion)))
	s.router.Handle("POST /api/v1/scheduler/run", s.authMiddleware(http.HandlerFunc(s.handleSchedulerRun)))
	s.router.Handle("GET /api/v1/scheduler/metrics", s.authMiddleware(http.HandlerFunc(s.handleSchedulerMetrics)))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}
