// Persistence interfaces the sync engine depends on. The PostgreSQL implementations live in
// internal/storage.

package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when a sync run id does not exist.
	ErrRunNotFound = errors.New("sync run not found")

	// ErrConnectionNotFound is returned when an API connection id does not exist.
	ErrConnectionNotFound = errors.New("api connection not found")
)

type (
	// Connection is a persisted upstream API connection.
	Connection struct {
		ID           int64
		Name         string
		BaseURL      string
		ClientID     string
		ClientSecret string
		Status       string
		LastError    string
		LastSyncAt   *time.Time
	}

	// RunStore persists sync runs and their error log.
	RunStore interface {
		// CreateRun inserts a new pending run.
		CreateRun(ctx context.Context, run *SyncRun) error

		// UpdateRun writes the run's status, timestamps and aggregate counters. Implementations
		// must refuse to modify a run that is already terminal in storage.
		UpdateRun(ctx context.Context, run *SyncRun) error

		// SaveResourceMetrics stores one resource's counters on the run.
		SaveResourceMetrics(ctx context.Context, runID uuid.UUID, resource ResourceType, metrics ResourceMetrics) error

		// AppendRunError adds one entry to the run's error log.
		AppendRunError(ctx context.Context, runErr *RunError) error

		// GetRun loads a run with its resource metrics.
		GetRun(ctx context.Context, runID uuid.UUID) (*SyncRun, error)

		// LastCompletedRun returns the most recent completed run for a connection, or nil.
		LastCompletedRun(ctx context.Context, connectionID int64) (*SyncRun, error)
	}

	// RawEventStore is the write-once audit log of fetched records.
	RawEventStore interface {
		// SaveRawEvent stores the event; a key collision is not an error and reports false.
		SaveRawEvent(ctx context.Context, event *RawEvent) (inserted bool, err error)
	}

	// EntityStore upserts canonical rows and resolves external ids to internal ids.
	EntityStore interface {
		// LookupIDs bulk-resolves external ids of one entity type.
		LookupIDs(ctx context.Context, resource ResourceType, externalIDs []string) (map[string]int64, error)

		// LookupID resolves a single external id. Found is false when no row exists.
		LookupID(ctx context.Context, resource ResourceType, externalID string) (id int64, found bool, err error)

		// Upsert inserts or updates the entity keyed by its external id, stamps the run that
		// last wrote it and reports whether a new row was created.
		Upsert(ctx context.Context, runID uuid.UUID, entity Entity) (id int64, created bool, err error)

		// RecomputeUnitOccupancy derives occupied/vacant for every unit not flagged not_ready
		// from the lease table as of the given date.
		RecomputeUnitOccupancy(ctx context.Context, asOf time.Time) (int64, error)
	}

	// ConnectionStore reads connections and records their health.
	ConnectionStore interface {
		GetConnection(ctx context.Context, id int64) (*Connection, error)
		MarkConnectionSuccess(ctx context.Context, id int64, at time.Time) error
		MarkConnectionError(ctx context.Context, id int64, message string, at time.Time) error
	}
)
