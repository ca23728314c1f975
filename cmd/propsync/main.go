// Package main provides the propsync sync command.
//
// Each invocation runs one sync for one API connection: it pulls the requested report
// resources, stores every record in the raw event log, normalizes them into the canonical
// tables and finishes the run as completed or failed. The exit status is 0 for a
// completed run (even with record errors) and 1 otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/appfolio"
	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/notify"
	"github.com/propsync-io/propsync/internal/storage"
	"github.com/propsync-io/propsync/internal/syncer"
	"github.com/propsync-io/propsync/internal/vocabulary"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "propsync"
)

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("PROPSYNC_LOG_LEVEL", slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	run, err := execute(ctx, opts, logger)

	stop()

	if err != nil {
		logger.Error("Sync failed", slog.String("error", err.Error()))
	}

	if run == nil || run.Status != ingestion.StatusCompleted {
		os.Exit(1)
	}
}

// execute wires storage, the API client factory, alerting and the sync service, then drives
// one run to a terminal state.
func execute(ctx context.Context, opts *options, logger *slog.Logger) (*ingestion.SyncRun, error) {
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("Connected to database",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
	)

	box, err := storage.LoadSecretBox()
	if err != nil {
		return nil, err
	}

	connections, err := storage.NewConnectionStore(dbConn, box)
	if err != nil {
		return nil, err
	}

	runs, err := storage.NewRunStore(dbConn)
	if err != nil {
		return nil, err
	}

	rawEvents, err := newRawEventStore(dbConn)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rawEvents.Close()
	}()

	entities, err := storage.NewEntityStore(dbConn)
	if err != nil {
		return nil, err
	}

	utilities, err := storage.NewUtilityExpenseProcessor(dbConn, logger)
	if err != nil {
		return nil, err
	}

	alerts, closeNotifier, err := newAlertEngine(dbConn, logger)
	if err != nil {
		return nil, err
	}

	defer closeNotifier()

	vocabConfig, err := vocabulary.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	apiConfig := appfolio.LoadConfig()

	fetchers := func(ctx context.Context, connectionID int64) (syncer.Fetcher, error) {
		client, err := appfolio.NewForConnection(ctx, connections, connectionID, apiConfig, appfolio.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		return client, nil
	}

	svc, err := syncer.NewService(syncer.LoadConfig(), runs, rawEvents, entities, fetchers,
		syncer.WithVocabulary(vocabulary.NewResolver(vocabConfig)),
		syncer.WithAlertRecorder(alerts),
		syncer.WithUtilityProcessor(utilities),
		syncer.WithConnectionMarker(connections),
		syncer.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	run, err := svc.CreateRun(ctx, opts.connectionID, opts.mode, opts.dateRange)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	logger.Info("Starting sync",
		slog.String("sync_run_id", run.ID.String()),
		slog.Int64("connection_id", run.ConnectionID),
		slog.String("mode", string(run.Mode)),
		slog.Int("resources", len(opts.resources)),
	)

	return svc.Run(ctx, run, opts.resources...)
}

// newAlertEngine builds the alert engine from PROPSYNC_ALERT_* settings overlaid with the
// alerts section of the config file. The returned func closes the notifier.
func newAlertEngine(conn *storage.Connection, logger *slog.Logger) (*alerting.Engine, func(), error) {
	store, err := storage.NewAlertStore(conn)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := notify.New(notify.LoadConfig(), logger)
	if err != nil {
		return nil, nil, err
	}

	closeNotifier := func() {
		if closer, ok := notifier.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("Failed to close alert notifier", slog.String("error", err.Error()))
			}
		}
	}

	path := config.GetEnvStr(vocabulary.ConfigPathEnvVar, vocabulary.DefaultConfigPath)

	engine, err := alerting.NewEngine(alerting.LoadConfig().MergeFile(path), store, notifier,
		alerting.WithLogger(logger))
	if err != nil {
		closeNotifier()

		return nil, nil, err
	}

	return engine, closeNotifier, nil
}

// newRawEventStore opens the raw event log without retention. propsync-api owns the
// cleanup loop, so PROPSYNC_RAW_EVENT_RETENTION is ignored here.
func newRawEventStore(conn *storage.Connection) (*storage.RawEventStore, error) {
	return storage.NewRawEventStore(conn, 0, 0)
}
