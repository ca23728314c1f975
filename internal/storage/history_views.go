package storage

import (
	"context"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/ingestion"
)

// RunStore serves the read side of sync runs as well.
var _ history.Store = (*RunStore)(nil)

// ListRuns returns runs matching the filter, newest first, and the total match count.
func (s *RunStore) ListRuns(ctx context.Context, filter history.RunFilter) ([]*ingestion.SyncRun, int, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.ConnectionID > 0 {
		args = append(args, filter.ConnectionID)
		conditions = append(conditions, fmt.Sprintf("connection_id = $%d", len(args)))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := selectRunColumns + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	runs := make([]*ingestion.SyncRun, 0, filter.Limit)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, total, nil
}

// ListRunErrors returns a page of a run's error log in insertion order.
func (s *RunStore) ListRunErrors(
	ctx context.Context,
	runID uuid.UUID,
	limit, offset int,
) ([]ingestion.RunError, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_run_errors WHERE sync_run_id = $1`, runID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count run errors: %w", err)
	}

	query := `
		SELECT sync_run_id, resource_type, external_id, message, context, created_at
		FROM sync_run_errors
		WHERE sync_run_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`

	rows, err := s.conn.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list run errors: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []ingestion.RunError

	for rows.Next() {
		var (
			e        ingestion.RunError
			resource string
			errCtx   []byte
		)

		if err := rows.Scan(&e.SyncRunID, &resource, &e.ExternalID, &e.Message, &errCtx, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan run error: %w", err)
		}

		e.ResourceType = ingestion.ResourceType(resource)

		if len(errCtx) > 0 {
			if err := gojson.Unmarshal(errCtx, &e.Context); err != nil {
				return nil, 0, fmt.Errorf("failed to decode run error context: %w", err)
			}
		}

		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating run errors: %w", err)
	}

	return result, total, nil
}
