package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/ingestion"
)

var _ alerting.Store = (*AlertStore)(nil)

// AlertStore persists per-connection failure alert state in failure_alerts.
type AlertStore struct {
	conn *Connection
}

// NewAlertStore creates an alert store.
func NewAlertStore(conn *Connection) (*AlertStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &AlertStore{conn: conn}, nil
}

// GetAlertState loads the state for a connection.
func (s *AlertStore) GetAlertState(ctx context.Context, connectionID int64) (*alerting.State, error) {
	query := `
		SELECT connection_id, consecutive_failures, last_alert_sent_at, last_failed_run_id,
		       last_failure_summary, last_failure_errors, last_failure_mode, last_failure_at,
		       COALESCE(acknowledged_by, ''), acknowledged_at
		FROM failure_alerts
		WHERE connection_id = $1
	`

	var (
		state                          alerting.State
		lastSent, lastFailure, ackedAt sql.NullTime
		lastRun                        uuid.NullUUID
		mode                           string
	)

	err := s.conn.QueryRowContext(ctx, query, connectionID).Scan(
		&state.ConnectionID, &state.ConsecutiveFailures, &lastSent, &lastRun,
		&state.LastFailureSummary, &state.LastFailureErrors, &mode, &lastFailure,
		&state.AcknowledgedBy, &ackedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: connection %d", alerting.ErrAlertNotFound, connectionID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load alert state for connection %d: %w", connectionID, err)
	}

	state.LastAlertSentAt = timePtr(lastSent)
	state.LastFailureAt = timePtr(lastFailure)
	state.AcknowledgedAt = timePtr(ackedAt)
	state.LastFailureMode = ingestion.SyncMode(mode)

	if lastRun.Valid {
		id := lastRun.UUID
		state.LastFailedRunID = &id
	}

	return &state, nil
}

// SaveAlertState upserts the full state row.
func (s *AlertStore) SaveAlertState(ctx context.Context, state *alerting.State) error {
	if state == nil {
		return errors.New("alert state is nil")
	}

	var lastRun uuid.NullUUID
	if state.LastFailedRunID != nil {
		lastRun = uuid.NullUUID{UUID: *state.LastFailedRunID, Valid: true}
	}

	query := `
		INSERT INTO failure_alerts (
			connection_id, consecutive_failures, last_alert_sent_at, last_failed_run_id,
			last_failure_summary, last_failure_errors, last_failure_mode, last_failure_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (connection_id) DO UPDATE SET
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_alert_sent_at = EXCLUDED.last_alert_sent_at,
			last_failed_run_id = EXCLUDED.last_failed_run_id,
			last_failure_summary = EXCLUDED.last_failure_summary,
			last_failure_errors = EXCLUDED.last_failure_errors,
			last_failure_mode = EXCLUDED.last_failure_mode,
			last_failure_at = EXCLUDED.last_failure_at,
			updated_at = NOW()
	`

	_, err := s.conn.ExecContext(ctx, query,
		state.ConnectionID, state.ConsecutiveFailures, nullTime(state.LastAlertSentAt), lastRun,
		state.LastFailureSummary, state.LastFailureErrors, string(state.LastFailureMode),
		nullTime(state.LastFailureAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert state for connection %d: %w", state.ConnectionID, err)
	}

	return nil
}

// AcknowledgeAlert stamps who acknowledged the alert and when.
func (s *AlertStore) AcknowledgeAlert(ctx context.Context, connectionID int64, user string, at time.Time) error {
	query := `
		UPDATE failure_alerts
		SET acknowledged_by = $2, acknowledged_at = $3, updated_at = NOW()
		WHERE connection_id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, connectionID, user, at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert for connection %d: %w", connectionID, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: connection %d", alerting.ErrAlertNotFound, connectionID)
	}

	return nil
}

// ListUserEmails returns every known user's email, ordered for stable recipients.
func (s *AlertStore) ListUserEmails(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT email FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var emails []string

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan user email: %w", err)
		}

		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return emails, nil
}
