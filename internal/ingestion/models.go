// Package ingestion provides the domain model for report ingestion: sync runs, raw events,
// canonical entities and the per-record outcomes produced while normalizing them.
package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownResourceType is returned when a resource type string is not one of the fixed set.
var ErrUnknownResourceType = errors.New("unknown resource type")

type (
	// ResourceType is one category of external report. The set is closed; every value has a
	// handler in the sync engine and a position in the referential processing order.
	ResourceType string

	// SyncMode selects how report filters are built for a run.
	SyncMode string

	// RunStatus is the persisted lifecycle state of a SyncRun.
	RunStatus string

	// OutcomeKind classifies what happened to a single record.
	OutcomeKind string

	// Record is one row of a report response, decoded with numbers preserved as json.Number.
	Record map[string]any

	// DateRange is an inclusive custom date window overriding the mode's default filter.
	DateRange struct {
		From time.Time
		To   time.Time
	}

	// ResourceMetrics are the per-resource counters rolled into a SyncRun.
	ResourceMetrics struct {
		Created    int   `json:"created"`
		Updated    int   `json:"updated"`
		Skipped    int   `json:"skipped"`
		Errored    int   `json:"errored"`
		DurationMs int64 `json:"duration_ms"`
	}

	// SyncRun is one end-to-end ingestion attempt against one connection.
	SyncRun struct {
		ID              uuid.UUID
		ConnectionID    int64
		Mode            SyncMode
		Status          RunStatus
		StartedAt       *time.Time
		CompletedAt     *time.Time
		ResourcesSynced int
		ErrorCount      int
		ErrorSummary    string
		DateRange       *DateRange
		ResourceMetrics map[ResourceType]ResourceMetrics
		CreatedAt       time.Time
	}

	// RunError is one entry in a sync run's error log.
	RunError struct {
		SyncRunID    uuid.UUID
		ResourceType ResourceType
		ExternalID   string
		Message      string
		Context      map[string]any
		CreatedAt    time.Time
	}

	// RawEvent is the immutable stored copy of one fetched record.
	RawEvent struct {
		ResourceType ResourceType
		ExternalID   string
		PulledAt     time.Time
		Payload      json.RawMessage
		SyncRunID    uuid.UUID
	}

	// Outcome is the result of processing one record.
	Outcome struct {
		Kind       OutcomeKind
		ExternalID string
		// Reason explains a skip.
		Reason string
		// Err is set for errored outcomes.
		Err error
	}
)

const (
	ResourceProperties         ResourceType = "properties"
	ResourceUnits              ResourceType = "units"
	ResourceVendors            ResourceType = "vendors"
	ResourcePeople             ResourceType = "people"
	ResourceLeases             ResourceType = "leases"
	ResourceLedgerTransactions ResourceType = "ledger_transactions"
	ResourceWorkOrders         ResourceType = "work_orders"
	ResourceBillDetails        ResourceType = "bill_details"
)

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeErrored OutcomeKind = "errored"
)

// ResourceTypes returns every resource type in referential processing order: a type only
// references types that appear before it.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceProperties,
		ResourceUnits,
		ResourceVendors,
		ResourcePeople,
		ResourceLeases,
		ResourceLedgerTransactions,
		ResourceWorkOrders,
		ResourceBillDetails,
	}
}

// ParseResourceType converts a string into a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResourceType, s)
	}

	return rt, nil
}

// IsValid checks if the resource type is one of the fixed set.
func (rt ResourceType) IsValid() bool {
	for _, valid := range ResourceTypes() {
		if rt == valid {
			return true
		}
	}

	return false
}

func (rt ResourceType) String() string {
	return string(rt)
}

// IsValid checks if the mode is full or incremental.
func (m SyncMode) IsValid() bool {
	return m == ModeFull || m == ModeIncremental
}

// IsValid checks if the status is a known lifecycle state.
func (s RunStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed and failed.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Created reports a newly inserted row.
func Created(externalID string) Outcome {
	return Outcome{Kind: OutcomeCreated, ExternalID: externalID}
}

// Updated reports an existing row overwritten with the latest mapped fields.
func Updated(externalID string) Outcome {
	return Outcome{Kind: OutcomeUpdated, ExternalID: externalID}
}

// Skipped reports a record intentionally not written, with the reason.
func Skipped(externalID, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, ExternalID: externalID, Reason: reason}
}

// Errored reports a record that failed to process.
func Errored(externalID string, err error) Outcome {
	return Outcome{Kind: OutcomeErrored, ExternalID: externalID, Err: err}
}

// Synced returns created + updated.
func (m ResourceMetrics) Synced() int {
	return m.Created + m.Updated
}

// Total returns the number of records seen.
func (m ResourceMetrics) Total() int {
	return m.Created + m.Updated + m.Skipped + m.Errored
}

// NewSyncRun creates a pending run for a connection.
func NewSyncRun(connectionID int64, mode SyncMode, dateRange *DateRange) *SyncRun {
	return &SyncRun{
		ID:              uuid.New(),
		ConnectionID:    connectionID,
		Mode:            mode,
		Status:          StatusPending,
		DateRange:       dateRange,
		ResourceMetrics: make(map[ResourceType]ResourceMetrics),
		CreatedAt:       time.Now().UTC(),
	}
}

// String returns the field as a trimmed string. Numbers are formatted without exponent so
// numeric ids survive decoding. Missing, null and empty values report false.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}

	var s string

	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	default:
		s = fmt.Sprint(val)
	}

	if s == "" {
		return "", false
	}

	return s, true
}

// Value returns the raw field value, or nil.
func (r Record) Value(key string) any {
	return r[key]
}
