package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/metrics"
)

// ResourceTracker counts outcomes for one resource type within a run and persists them
// onto the run when finished. Its logger is expected to carry the run's sync_run_id.
type ResourceTracker struct {
	runID    uuid.UUID
	resource ingestion.ResourceType
	store    ingestion.RunStore
	logger   *slog.Logger
	now      func() time.Time
	started  time.Time
	metrics  ingestion.ResourceMetrics
	errors   []string
	finished bool
}

func newResourceTracker(
	runID uuid.UUID,
	resource ingestion.ResourceType,
	store ingestion.RunStore,
	logger *slog.Logger,
	now func() time.Time,
) *ResourceTracker {
	return &ResourceTracker{
		runID:    runID,
		resource: resource,
		store:    store,
		logger:   logger.With(slog.String("resource_type", resource.String())),
		now:      now,
		started:  now(),
	}
}

// Record counts one outcome. Errored outcomes are appended to the run's error log with
// errCtx; the returned error is a failure to write that log entry.
func (t *ResourceTracker) Record(ctx context.Context, outcome ingestion.Outcome, errCtx map[string]any) error {
	metrics.RecordsProcessed.WithLabelValues(t.resource.String(), string(outcome.Kind)).Inc()

	switch outcome.Kind {
	case ingestion.OutcomeCreated:
		t.metrics.Created++
	case ingestion.OutcomeUpdated:
		t.metrics.Updated++
	case ingestion.OutcomeSkipped:
		t.metrics.Skipped++

		t.logger.Debug("Record skipped",
			slog.String("external_id", outcome.ExternalID),
			slog.String("reason", outcome.Reason))
	case ingestion.OutcomeErrored:
		t.metrics.Errored++

		return t.logError(ctx, outcome.ExternalID, outcome.Err, errCtx)
	}

	return nil
}

// Fail logs a resource-level failure, such as a fetch that could not complete.
func (t *ResourceTracker) Fail(ctx context.Context, cause error, errCtx map[string]any) error {
	return t.logError(ctx, "", cause, errCtx)
}

func (t *ResourceTracker) logError(ctx context.Context, externalID string, cause error, errCtx map[string]any) error {
	message := fmt.Sprintf("%s: %v", t.resource, cause)
	if externalID != "" {
		message = fmt.Sprintf("%s %s: %v", t.resource, externalID, cause)
	}

	t.errors = append(t.errors, message)

	attrs := []any{
		slog.String("external_id", externalID),
		slog.String("error", fmt.Sprint(cause)),
	}
	for k, v := range errCtx {
		attrs = append(attrs, slog.Any(k, v))
	}

	t.logger.Warn("Record failed", attrs...)

	return t.store.AppendRunError(ctx, &ingestion.RunError{
		SyncRunID:    t.runID,
		ResourceType: t.resource,
		ExternalID:   externalID,
		Message:      fmt.Sprint(cause),
		Context:      errCtx,
		CreatedAt:    t.now().UTC(),
	})
}

// Finish stamps the duration and persists the metrics onto the run. Later calls return
// the same metrics without writing again.
func (t *ResourceTracker) Finish(ctx context.Context) (ingestion.ResourceMetrics, error) {
	if t.finished {
		return t.metrics, nil
	}

	t.finished = true
	t.metrics.DurationMs = t.now().Sub(t.started).Milliseconds()

	if err := t.store.SaveResourceMetrics(ctx, t.runID, t.resource, t.metrics); err != nil {
		return t.metrics, fmt.Errorf("failed to save %s metrics: %w", t.resource, err)
	}

	t.logger.Info("Resource sync finished",
		slog.Int("created", t.metrics.Created),
		slog.Int("updated", t.metrics.Updated),
		slog.Int("skipped", t.metrics.Skipped),
		slog.Int("errored", t.metrics.Errored),
		slog.Int64("duration_ms", t.metrics.DurationMs))

	return t.metrics, nil
}

// Metrics returns the counters so far.
func (t *ResourceTracker) Metrics() ingestion.ResourceMetrics {
	return t.metrics
}

// Errors returns the formatted error lines recorded so far.
func (t *ResourceTracker) Errors() []string {
	return t.errors
}
