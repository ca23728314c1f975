// Package api serves the read-only query surface over sync runs, their error logs and
// connection failure alerts, plus health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/api/middleware"
	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/ingestion"
)

// Version is reported by /health and /ping. Set at build time with -ldflags.
var Version = "dev"

type (
	// HealthChecker reports whether the storage backend is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// RunHistory reads sync runs. *history.Service implements it.
	RunHistory interface {
		ListRuns(ctx context.Context, filter history.RunFilter) (*history.RunList, error)
		GetRun(ctx context.Context, runID uuid.UUID) (*ingestion.SyncRun, error)
		ListRunErrors(ctx context.Context, runID uuid.UUID, limit, offset int) (*history.ErrorList, error)
	}

	// AlertService reads and acknowledges connection alerts. *alerting.Engine implements it.
	AlertService interface {
		Status(ctx context.Context, connectionID int64) (*alerting.State, error)
		Acknowledge(ctx context.Context, connectionID int64, user string) error
	}

	// Dependencies are the runtime collaborators of the server. Any of them may be nil:
	// a nil Health makes /ready always ready, a nil RateLimiter disables rate limiting and
	// a nil History or Alerts leaves those routes unregistered.
	Dependencies struct {
		Health      HealthChecker
		History     RunHistory
		Alerts      AlertService
		RateLimiter middleware.RateLimiter
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		deps       Dependencies
		handler    http.Handler
	}
)

// NewServer creates the server with its router and middleware stack.
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	return newServer(cfg, deps, logger)
}

func newServer(cfg *ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	if deps.Health == nil {
		logger.Warn("Health checker not configured - readiness check disabled")
	}

	r := chi.NewRouter()

	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	server.setupRoutes(r)
	server.handler = r

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(stop)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting propsync API server",
			slog.String("address", s.config.Address()),
			slog.String("version", Version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		s.logger.Error("Server failed", slog.String("error", err.Error()))

		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests, then releases the rate limiter.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed")

	return nil
}
