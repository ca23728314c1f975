package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/propsync-io/propsync/internal/canonicalization"
	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
)

var (
	// ErrRawEventStoreFailed is returned when a raw event write fails.
	ErrRawEventStoreFailed = errors.New("raw event storage failed")

	// ErrInvalidCleanupInterval is returned when retention is enabled without a positive interval.
	ErrInvalidCleanupInterval = errors.New("cleanup interval must be greater than zero")

	_ ingestion.RawEventStore = (*RawEventStore)(nil)
)

const (
	// cleanupQueryTimeout is the maximum time allowed for one cleanup pass.
	cleanupQueryTimeout = 30 * time.Second
	// shutdownTimeout is the maximum time to wait for the cleanup goroutine in Close().
	shutdownTimeout = 5 * time.Second
	// cleanupBatchSize bounds the rows deleted per statement to keep locks short.
	cleanupBatchSize = 10000
	// batchSleepDuration is the pause between cleanup batches.
	batchSleepDuration = 100 * time.Millisecond
)

// RawEventStore is the write-once audit log of fetched report rows.
//
// When a retention period is configured, a background goroutine deletes events older than
// the retention in batches. With zero retention nothing is ever deleted and no goroutine
// is started.
type RawEventStore struct {
	conn            *Connection
	logger          *slog.Logger
	retention       time.Duration
	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// NewRawEventStore creates the store and, if retention > 0, starts the cleanup goroutine.
func NewRawEventStore(conn *Connection, retention, cleanupInterval time.Duration) (*RawEventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if retention < 0 {
		return nil, ErrInvalidRetention
	}

	if retention > 0 && cleanupInterval <= 0 {
		return nil, ErrInvalidCleanupInterval
	}

	store := &RawEventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		retention:       retention,
		cleanupInterval: cleanupInterval,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	if retention == 0 {
		close(store.cleanupDone)

		return store, nil
	}

	go store.runCleanup()

	store.logger.Info("Started raw event retention goroutine",
		slog.Duration("retention", retention),
		slog.Duration("interval", cleanupInterval))

	return store, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times. The connection is
// owned by the caller and is not closed.
func (s *RawEventStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)

		select {
		case <-s.cleanupDone:
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Raw event cleanup goroutine did not stop within timeout")
		}
	})

	return nil
}

// SaveRawEvent stores the event. A row with the same (resource_type, external_id,
// pulled_at) is left untouched and reported as not inserted.
func (s *RawEventStore) SaveRawEvent(ctx context.Context, event *ingestion.RawEvent) (bool, error) {
	if event == nil {
		return false, fmt.Errorf("%w: event is nil", ErrRawEventStoreFailed)
	}

	if event.ExternalID == "" {
		return false, fmt.Errorf("%w: external id is empty", ErrRawEventStoreFailed)
	}

	if len(event.Payload) == 0 {
		return false, fmt.Errorf("%w: payload is empty", ErrRawEventStoreFailed)
	}

	query := `
		INSERT INTO raw_events (resource_type, external_id, pulled_at, sync_run_id, payload, payload_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resource_type, external_id, pulled_at) DO NOTHING
	`

	result, err := s.conn.ExecContext(ctx, query,
		string(event.ResourceType),
		event.ExternalID,
		event.PulledAt,
		event.SyncRunID,
		string(event.Payload),
		canonicalization.PayloadFingerprint(event.Payload),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %s %s: %w", ErrRawEventStoreFailed, event.ResourceType, event.ExternalID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRawEventStoreFailed, err)
	}

	return affected > 0, nil
}

// CountForRun returns how many raw events a run stored.
func (s *RawEventStore) CountForRun(ctx context.Context, runID string) (int64, error) {
	var n int64

	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events WHERE sync_run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}

	return n, nil
}

func (s *RawEventStore) runCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.cleanupStop:
			cancel()
			s.logger.Info("Stopping raw event retention goroutine")

			return
		case <-ticker.C:
			cleanupCtx, cleanupCancel := context.WithTimeout(ctx, cleanupQueryTimeout)
			s.deleteExpired(cleanupCtx, time.Now().Add(-s.retention))
			cleanupCancel()
		}
	}
}

// deleteExpired removes raw events pulled before cutoff in batches of cleanupBatchSize
// and returns the number of rows deleted.
func (s *RawEventStore) deleteExpired(ctx context.Context, cutoff time.Time) int64 {
	startTime := time.Now()
	totalDeleted := int64(0)
	batchCount := 0

	for {
		if ctx.Err() != nil {
			s.logger.Info("Raw event cleanup cancelled",
				slog.Int64("rows_deleted", totalDeleted),
				slog.Int("batches_completed", batchCount))

			return totalDeleted
		}

		query := `
			DELETE FROM raw_events
			WHERE (resource_type, external_id, pulled_at) IN (
				SELECT resource_type, external_id, pulled_at
				FROM raw_events
				WHERE pulled_at < $1
				ORDER BY pulled_at ASC
				LIMIT $2
			)
		`

		result, err := s.conn.ExecContext(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Error("Failed to delete expired raw events",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted_before_error", totalDeleted),
				slog.String("status", "failed"))

			return totalDeleted
		}

		rowsDeleted, err := result.RowsAffected()
		if err != nil {
			s.logger.Warn("Raw event cleanup batch completed but row count unavailable",
				slog.String("error", err.Error()))

			return totalDeleted
		}

		totalDeleted += rowsDeleted
		batchCount++

		if rowsDeleted < cleanupBatchSize {
			break
		}

		select {
		case <-ctx.Done():
			return totalDeleted
		case <-time.After(batchSleepDuration):
		}
	}

	if totalDeleted == 0 {
		s.logger.Debug("Raw event cleanup completed - nothing expired",
			slog.Duration("duration", time.Since(startTime)))
	} else {
		s.logger.Info("Deleted expired raw events",
			slog.Int64("rows_deleted", totalDeleted),
			slog.Int("batches_completed", batchCount),
			slog.Duration("duration", time.Since(startTime)),
			slog.String("status", "success"))
	}

	return totalDeleted
}
