package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for sync run validation failures.
var (
	ErrNilRun             = errors.New("sync run cannot be nil")
	ErrInvalidConnection  = errors.New("connection id must be positive")
	ErrInvalidMode        = errors.New("invalid sync mode")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrRunNotPending      = errors.New("sync run must be pending to start")
	ErrDateRangeWithDelta = errors.New("date range override requires full mode")
)

// ValidateSyncRun validates a run before it is started.
//
// Rules:
//   - connection id must be positive
//   - mode must be full or incremental
//   - status must be pending
//   - a date range override needs both bounds, From <= To, and full mode
func ValidateSyncRun(run *SyncRun) error {
	if run == nil {
		return ErrNilRun
	}

	if run.ConnectionID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConnection, run.ConnectionID)
	}

	if !run.Mode.IsValid() {
		return fmt.Errorf("%w: %q (valid: full, incremental)", ErrInvalidMode, run.Mode)
	}

	if run.Status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrRunNotPending, run.Status)
	}

	if run.DateRange != nil {
		if run.Mode != ModeFull {
			return ErrDateRangeWithDelta
		}

		if run.DateRange.From.IsZero() || run.DateRange.To.IsZero() {
			return fmt.Errorf("%w: both from and to are required", ErrInvalidDateRange)
		}

		if run.DateRange.From.After(run.DateRange.To) {
			return fmt.Errorf("%w: from %s is after to %s", ErrInvalidDateRange,
				run.DateRange.From.Format("2006-01-02"), run.DateRange.To.Format("2006-01-02"))
		}
	}

	return nil
}
