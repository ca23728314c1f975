package syncer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync-io/propsync/internal/ingestion"
)

func TestResourceTracker(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := newMemRunStore()
	runID := uuid.New()

	tracker := newResourceTracker(runID, ingestion.ResourceVendors, store, slog.Default(), fixedClock)

	outcomes := []ingestion.Outcome{
		ingestion.Created("V1"),
		ingestion.Created("V2"),
		ingestion.Updated("V3"),
		ingestion.Skipped("V4", "duplicate"),
		ingestion.Errored("V5", errors.New("bad phone")),
	}

	for _, o := range outcomes {
		require.NoError(t, tracker.Record(ctx, o, map[string]any{"page": 1}))
	}

	require.NoError(t, tracker.Fail(ctx, errors.New("report truncated"), nil))

	m := tracker.Metrics()
	assert.Equal(t, 2, m.Created)
	assert.Equal(t, 1, m.Updated)
	assert.Equal(t, 1, m.Skipped)
	assert.Equal(t, 1, m.Errored)
	assert.Equal(t, 5, m.Total())

	assert.Equal(t, []string{"vendors V5: bad phone", "vendors: report truncated"}, tracker.Errors())

	require.Len(t, store.errors, 2)
	assert.Equal(t, runID, store.errors[0].SyncRunID)
	assert.Equal(t, "V5", store.errors[0].ExternalID)
	assert.Equal(t, "bad phone", store.errors[0].Message)
	assert.Equal(t, 1, store.errors[0].Context["page"])
	assert.Empty(t, store.errors[1].ExternalID)

	finished, err := tracker.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Created, finished.Created)
	assert.Equal(t, finished, store.metrics[ingestion.ResourceVendors])

	store.metrics = map[ingestion.ResourceType]ingestion.ResourceMetrics{}

	again, err := tracker.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, finished, again)
	assert.Empty(t, store.metrics, "a finished tracker does not write again")
}

func TestResourceTrackerAppendFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newMemRunStore()
	store.appendErr = errors.New("insert failed")

	tracker := newResourceTracker(uuid.New(), ingestion.ResourceUnits, store, slog.Default(), fixedClock)

	err := tracker.Record(context.Background(), ingestion.Errored("U1", errors.New("bad")), nil)
	require.Error(t, err)

	assert.Equal(t, 1, tracker.Metrics().Errored, "the outcome is counted even when the log write fails")
}

func TestResourceTrackerLogsRunIDOnce(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var buf bytes.Buffer

	runID := uuid.New()
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With(slog.String("sync_run_id", runID.String()))

	tracker := newResourceTracker(runID, ingestion.ResourceVendors, newMemRunStore(), logger, fixedClock)

	ctx := context.Background()
	require.NoError(t, tracker.Record(ctx, ingestion.Errored("V1", errors.New("bad phone")), nil))
	_, err := tracker.Finish(ctx)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"sync_run_id"`), line)
	}
}
