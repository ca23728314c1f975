package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
)

var (
	// ErrRunStoreFailed is returned when a sync run write fails.
	ErrRunStoreFailed = errors.New("sync run storage failed")

	// ErrInvalidStateTransition is returned when an update targets a run that is already
	// terminal in the database.
	ErrInvalidStateTransition = errors.New("invalid state transition from terminal state")

	_ ingestion.RunStore = (*RunStore)(nil)
)

const dateLayout = "2006-01-02"

// RunStore persists sync runs, their per-resource metrics and their error log.
type RunStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRunStore creates a PostgreSQL-backed run store.
func NewRunStore(conn *Connection) (*RunStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RunStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run *ingestion.SyncRun) error {
	if run == nil {
		return fmt.Errorf("%w: run is nil", ErrRunStoreFailed)
	}

	metrics, err := marshalMetrics(run.ResourceMetrics)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRunStoreFailed, err)
	}

	from, to := dateRangeColumns(run.DateRange)

	query := `
		INSERT INTO sync_runs (
			id, connection_id, mode, status, started_at, completed_at,
			resources_synced, error_count, error_summary, date_from, date_to,
			resource_metrics, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.conn.ExecContext(ctx, query,
		run.ID, run.ConnectionID, string(run.Mode), string(run.Status),
		nullTime(run.StartedAt), nullTime(run.CompletedAt),
		run.ResourcesSynced, run.ErrorCount, run.ErrorSummary, from, to,
		metrics, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert run %s: %w", ErrRunStoreFailed, run.ID, err)
	}

	s.logger.Debug("sync run created",
		slog.String("sync_run_id", run.ID.String()),
		slog.Int64("connection_id", run.ConnectionID),
		slog.String("mode", string(run.Mode)))

	return nil
}

// UpdateRun writes status, timestamps and aggregate counters. A run that is already
// completed or failed in the database is never modified.
func (s *RunStore) UpdateRun(ctx context.Context, run *ingestion.SyncRun) error {
	if run == nil {
		return fmt.Errorf("%w: run is nil", ErrRunStoreFailed)
	}

	query := `
		UPDATE sync_runs
		SET status = $2,
		    started_at = $3,
		    completed_at = $4,
		    resources_synced = $5,
		    error_count = $6,
		    error_summary = $7
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed')
	`

	result, err := s.conn.ExecContext(ctx, query,
		run.ID, string(run.Status), nullTime(run.StartedAt), nullTime(run.CompletedAt),
		run.ResourcesSynced, run.ErrorCount, run.ErrorSummary,
	)
	if err != nil {
		return fmt.Errorf("%w: update run %s: %w", ErrRunStoreFailed, run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update run %s: %w", ErrRunStoreFailed, run.ID, err)
	}

	if affected == 0 {
		var status string

		err := s.conn.QueryRowContext(ctx, `SELECT status FROM sync_runs WHERE id = $1`, run.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ingestion.ErrRunNotFound, run.ID)
		}

		if err != nil {
			return fmt.Errorf("%w: update run %s: %w", ErrRunStoreFailed, run.ID, err)
		}

		return fmt.Errorf("%w: run %s is %s", ErrInvalidStateTransition, run.ID, status)
	}

	return nil
}

// SaveResourceMetrics sets one key of the run's resource_metrics document.
func (s *RunStore) SaveResourceMetrics(
	ctx context.Context,
	runID uuid.UUID,
	resource ingestion.ResourceType,
	metrics ingestion.ResourceMetrics,
) error {
	payload, err := gojson.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("%w: marshal metrics: %w", ErrRunStoreFailed, err)
	}

	query := `
		UPDATE sync_runs
		SET resource_metrics = jsonb_set(resource_metrics, ARRAY[$2::text], $3::jsonb, true)
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, runID, string(resource), string(payload))
	if err != nil {
		return fmt.Errorf("%w: save metrics for %s: %w", ErrRunStoreFailed, resource, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrRunNotFound, runID)
	}

	return nil
}

// AppendRunError adds one entry to the run's error log.
func (s *RunStore) AppendRunError(ctx context.Context, runErr *ingestion.RunError) error {
	if runErr == nil {
		return fmt.Errorf("%w: run error is nil", ErrRunStoreFailed)
	}

	errCtx := runErr.Context
	if errCtx == nil {
		errCtx = map[string]any{}
	}

	payload, err := gojson.Marshal(errCtx)
	if err != nil {
		return fmt.Errorf("%w: marshal error context: %w", ErrRunStoreFailed, err)
	}

	createdAt := runErr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_run_errors (sync_run_id, resource_type, external_id, message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := s.conn.ExecContext(ctx, query,
		runErr.SyncRunID, string(runErr.ResourceType), runErr.ExternalID, runErr.Message, string(payload), createdAt,
	); err != nil {
		return fmt.Errorf("%w: append error for run %s: %w", ErrRunStoreFailed, runErr.SyncRunID, err)
	}

	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (*ingestion.SyncRun, error) {
	row := s.conn.QueryRowContext(ctx, selectRunColumns+` WHERE id = $1`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrRunNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	return run, nil
}

// LastCompletedRun returns the most recent completed run of a connection, or nil when
// the connection has never completed one.
func (s *RunStore) LastCompletedRun(ctx context.Context, connectionID int64) (*ingestion.SyncRun, error) {
	row := s.conn.QueryRowContext(ctx, selectRunColumns+`
		WHERE connection_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1`, connectionID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no completed run is not an error
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load last completed run for connection %d: %w", connectionID, err)
	}

	return run, nil
}

const selectRunColumns = `
	SELECT id, connection_id, mode, status, started_at, completed_at,
	       resources_synced, error_count, error_summary, date_from, date_to,
	       resource_metrics, created_at
	FROM sync_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ingestion.SyncRun, error) {
	var (
		run                ingestion.SyncRun
		mode, status       string
		startedAt, endedAt sql.NullTime
		dateFrom, dateTo   sql.NullTime
		metrics            []byte
	)

	if err := row.Scan(
		&run.ID, &run.ConnectionID, &mode, &status, &startedAt, &endedAt,
		&run.ResourcesSynced, &run.ErrorCount, &run.ErrorSummary, &dateFrom, &dateTo,
		&metrics, &run.CreatedAt,
	); err != nil {
		return nil, err
	}

	run.Mode = ingestion.SyncMode(mode)
	run.Status = ingestion.RunStatus(status)
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(endedAt)
	run.CreatedAt = run.CreatedAt.UTC()

	if dateFrom.Valid && dateTo.Valid {
		run.DateRange = &ingestion.DateRange{From: dateFrom.Time.UTC(), To: dateTo.Time.UTC()}
	}

	run.ResourceMetrics = make(map[ingestion.ResourceType]ingestion.ResourceMetrics)
	if len(metrics) > 0 {
		if err := gojson.Unmarshal(metrics, &run.ResourceMetrics); err != nil {
			return nil, fmt.Errorf("decode resource metrics: %w", err)
		}
	}

	return &run, nil
}

func marshalMetrics(m map[ingestion.ResourceType]ingestion.ResourceMetrics) (string, error) {
	if m == nil {
		return "{}", nil
	}

	payload, err := gojson.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal resource metrics: %w", err)
	}

	return string(payload), nil
}

func dateRangeColumns(dr *ingestion.DateRange) (sql.NullString, sql.NullString) {
	if dr == nil {
		return sql.NullString{}, sql.NullString{}
	}

	return sql.NullString{String: dr.From.Format(dateLayout), Valid: true},
		sql.NullString{String: dr.To.Format(dateLayout), Valid: true}
}
