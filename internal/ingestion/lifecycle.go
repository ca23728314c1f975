package ingestion

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for run state transitions.
var (
	// ErrInvalidTransition indicates a transition the run lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalStateImmutable indicates an attempt to move a completed or failed run.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")
)

// ValidateRunTransition validates a sync run state transition.
//
// Valid transitions:
//   - pending → running
//   - running → {completed, failed}
//
// Terminal states (completed, failed) never change, not even to themselves: a run is
// finished exactly once.
func ValidateRunTransition(from, to RunStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
	}

	switch from {
	case StatusPending:
		if to == StatusRunning {
			return nil
		}
	case StatusRunning:
		if to == StatusCompleted || to == StatusFailed {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// MarkRunning moves a pending run to running and records the start time.
func (r *SyncRun) MarkRunning(now time.Time) error {
	if err := ValidateRunTransition(r.Status, StatusRunning); err != nil {
		return err
	}

	r.Status = StatusRunning
	r.StartedAt = &now

	return nil
}

// MarkCompleted finishes a running run. Record-level errors do not fail a run; they are
// carried in errorCount and summary.
func (r *SyncRun) MarkCompleted(now time.Time, resourcesSynced, errorCount int, summary string) error {
	if err := ValidateRunTransition(r.Status, StatusCompleted); err != nil {
		return err
	}

	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.ResourcesSynced = resourcesSynced
	r.ErrorCount = errorCount
	r.ErrorSummary = summary

	return nil
}

// MarkFailed finishes a running run with a run-level error.
func (r *SyncRun) MarkFailed(now time.Time, resourcesSynced, errorCount int, summary string) error {
	if err := ValidateRunTransition(r.Status, StatusFailed); err != nil {
		return err
	}

	r.Status = StatusFailed
	r.CompletedAt = &now
	r.ResourcesSynced = resourcesSynced
	r.ErrorCount = errorCount
	r.ErrorSummary = summary

	return nil
}

// Duration returns the elapsed run time, or zero if the run has not finished.
func (r *SyncRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}

	return r.CompletedAt.Sub(*r.StartedAt)
}
