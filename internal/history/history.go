// Package history is the read side of sync runs: run listings, run detail with
// per-resource metrics, and the error log of a run.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/ingestion"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	// ErrInvalidPagination is returned for a negative limit or offset.
	ErrInvalidPagination = errors.New("invalid pagination parameters")

	// ErrInvalidStatusFilter is returned for an unknown status filter.
	ErrInvalidStatusFilter = errors.New("invalid status filter")
)

type (
	// RunFilter narrows a run listing. Zero values mean "any".
	RunFilter struct {
		ConnectionID int64
		Status       ingestion.RunStatus
		Limit        int
		Offset       int
	}

	// RunList is one page of runs, newest first.
	RunList struct {
		Runs   []*ingestion.SyncRun
		Total  int
		Limit  int
		Offset int
	}

	// ErrorList is one page of a run's error log, oldest first.
	ErrorList struct {
		Errors []ingestion.RunError
		Total  int
		Limit  int
		Offset int
	}

	// Store reads persisted sync runs.
	Store interface {
		ListRuns(ctx context.Context, filter RunFilter) ([]*ingestion.SyncRun, int, error)
		GetRun(ctx context.Context, runID uuid.UUID) (*ingestion.SyncRun, error)
		ListRunErrors(ctx context.Context, runID uuid.UUID, limit, offset int) ([]ingestion.RunError, int, error)
	}

	// Service applies pagination defaults on top of a Store.
	Service struct {
		store Store
	}
)

// NewService creates a history service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// ListRuns returns a page of runs.
func (s *Service) ListRuns(ctx context.Context, filter RunFilter) (*RunList, error) {
	limit, err := normalizePage(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, filter.Status)
	}

	filter.Limit = limit

	runs, total, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &RunList{Runs: runs, Total: total, Limit: limit, Offset: filter.Offset}, nil
}

// GetRun returns one run with its resource metrics.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*ingestion.SyncRun, error) {
	return s.store.GetRun(ctx, runID)
}

// ListRunErrors returns a page of a run's error log. The run must exist.
func (s *Service) ListRunErrors(ctx context.Context, runID uuid.UUID, limit, offset int) (*ErrorList, error) {
	limit, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	errs, total, err := s.store.ListRunErrors(ctx, runID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ErrorList{Errors: errs, Total: total, Limit: limit, Offset: offset}, nil
}

func normalizePage(limit, offset int) (int, error) {
	if limit < 0 || offset < 0 {
		return 0, fmt.Errorf("%w: limit=%d offset=%d", ErrInvalidPagination, limit, offset)
	}

	if limit == 0 {
		return DefaultLimit, nil
	}

	return min(limit, MaxLimit), nil
}
