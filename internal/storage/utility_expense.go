package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// UtilityExpenseProcessor derives utility_expenses rows from the bill details a sync run
// wrote. Bills are classified by account name; anything that is not a utility account is
// ignored.
type UtilityExpenseProcessor struct {
	conn   *Connection
	logger *slog.Logger
}

// NewUtilityExpenseProcessor creates a processor.
func NewUtilityExpenseProcessor(conn *Connection, logger *slog.Logger) (*UtilityExpenseProcessor, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &UtilityExpenseProcessor{conn: conn, logger: logger}, nil
}

// ProcessSyncRun upserts one utility expense per utility bill detail last written by the
// run and returns the number of rows written.
func (p *UtilityExpenseProcessor) ProcessSyncRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	query := `
		INSERT INTO utility_expenses (bill_detail_id, property_id, unit_id, utility_type, period_month, amount,
		                              sync_run_id)
		SELECT id, property_id, unit_id, utility_type, period_month, amount, $1
		FROM (
			SELECT b.id, b.property_id, b.unit_id, b.amount,
			       date_trunc('month', b.bill_date)::date AS period_month,
			       CASE
			           WHEN b.account_name ILIKE '%water%' THEN 'water'
			           WHEN b.account_name ILIKE '%sewer%' THEN 'sewer'
			           WHEN b.account_name ILIKE '%electric%' THEN 'electric'
			           WHEN b.account_name ILIKE '%gas%' THEN 'gas'
			           WHEN b.account_name ILIKE '%trash%' OR b.account_name ILIKE '%refuse%' THEN 'trash'
			       END AS utility_type
			FROM bill_details b
			WHERE b.last_sync_run_id = $1
		) classified
		WHERE utility_type IS NOT NULL
		ON CONFLICT (bill_detail_id) DO UPDATE SET
			property_id = EXCLUDED.property_id,
			unit_id = EXCLUDED.unit_id,
			utility_type = EXCLUDED.utility_type,
			period_month = EXCLUDED.period_month,
			amount = EXCLUDED.amount,
			sync_run_id = EXCLUDED.sync_run_id,
			updated_at = NOW()
	`

	result, err := p.conn.ExecContext(ctx, query, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to derive utility expenses for run %s: %w", runID, err)
	}

	written, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to derive utility expenses for run %s: %w", runID, err)
	}

	p.logger.Info("Derived utility expenses",
		slog.String("sync_run_id", runID.String()),
		slog.Int64("rows", written))

	return written, nil
}
