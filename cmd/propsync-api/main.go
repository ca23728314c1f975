// Package main provides the propsync query API service.
//
// The service exposes sync run history, per-run error logs and connection failure alerts
// over HTTP, along with health and Prometheus endpoints. It also owns raw event retention
// cleanup.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/api"
	"github.com/propsync-io/propsync/internal/api/middleware"
	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/notify"
	"github.com/propsync-io/propsync/internal/storage"
	"github.com/propsync-io/propsync/internal/vocabulary"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "propsync-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	api.Version = version
	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting propsync API service",
		slog.String("service", name),
		slog.String("version", version),
	)

	if err := serverConfig.Validate(); err != nil {
		logger.Error("Invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()

	// Closed by the server on shutdown.
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("max_clients", middlewareConfig.MaxClients),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	runs, err := storage.NewRunStore(dbConn)
	if err != nil {
		logger.Error("Failed to create run store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	rawEvents, err := storage.NewRawEventStore(dbConn, storageConfig.RawEventRetention, storageConfig.CleanupInterval)
	if err != nil {
		logger.Error("Failed to create raw event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = rawEvents.Close()
	}()

	logger.Info("Storage initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Duration("raw_event_retention", storageConfig.RawEventRetention),
		slog.Duration("cleanup_interval", storageConfig.CleanupInterval),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	alerts, err := newAlertEngine(dbConn, logger)
	if err != nil {
		logger.Error("Failed to create alert engine", slog.String("error", err.Error()))

		_ = rawEvents.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Health:      dbConn,
		History:     history.NewService(runs),
		Alerts:      alerts,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)

		_ = rawEvents.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("propsync API service stopped")
}

// newAlertEngine builds the engine used for reads and acknowledgements. Acknowledging
// never notifies, so the log notifier is enough here.
func newAlertEngine(conn *storage.Connection, logger *slog.Logger) (*alerting.Engine, error) {
	store, err := storage.NewAlertStore(conn)
	if err != nil {
		return nil, err
	}

	path := config.GetEnvStr(vocabulary.ConfigPathEnvVar, vocabulary.DefaultConfigPath)

	return alerting.NewEngine(alerting.LoadConfig().MergeFile(path), store, notify.NewLogNotifier(logger),
		alerting.WithLogger(logger))
}
