package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync-io/propsync/internal/ingestion"
)

func fullDataset() map[ingestion.ResourceType][]ingestion.Record {
	return map[ingestion.ResourceType][]ingestion.Record{
		ingestion.ResourceProperties: {
			{"property_id": json.Number("10"), "property_name": "  Maple  Court ", "property_type": "Multi-Family", "units": "2"},
		},
		ingestion.ResourceUnits: {
			{"unit_id": json.Number("100"), "property_id": json.Number("10"), "unit_name": "1A", "status": "Vacant-Unrented"},
			{"unit_id": json.Number("101"), "property_id": json.Number("10"), "unit_name": "1B", "status": "Occupied", "market_rent": "$1,250.00"},
		},
		ingestion.ResourceVendors: {
			{"vendor_id": "V1", "company_name": "Ace Plumbing", "email": "OPS@ACE.TEST, billing@ace.test"},
		},
		ingestion.ResourcePeople: {
			{"tenant_id": "T1", "tenant": "Dana Smith", "emails": "dana@example.test"},
		},
		ingestion.ResourceLeases: {
			{"occupancy_id": "L1", "unit_id": json.Number("101"), "tenant_id": "T1", "status": "Current", "rent": "1250"},
			{"unit_id": json.Number("100"), "status": "Vacant-Unrented"},
		},
		ingestion.ResourceLedgerTransactions: {
			{"txn_id": "G1", "property_id": json.Number("10"), "post_date": "2026-03-01", "debit": "(45.00)"},
		},
		ingestion.ResourceWorkOrders: {
			{"work_order_id": "W1", "property_id": json.Number("10"), "unit_id": json.Number("101"), "vendor_id": "V1", "status": "Completed"},
		},
		ingestion.ResourceBillDetails: {
			{"txn_id": json.Number("9001"), "property_id": json.Number("10"), "account_name": "Water", "amount": "80.10"},
		},
	}
}

func TestServiceRunFullSync(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.fetcher.records = fullDataset()

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run)
	require.NoError(t, err)

	assert.Equal(t, ingestion.StatusCompleted, run.Status)
	assert.Equal(t, 0, run.ErrorCount)
	assert.Empty(t, run.ErrorSummary)
	assert.Equal(t, 9, run.ResourcesSynced)
	assert.Equal(t, ingestion.ResourceTypes(), h.fetcher.calls)
	assert.Equal(t, []ingestion.RunStatus{ingestion.StatusRunning, ingestion.StatusCompleted}, h.runs.statuses)

	stored := h.runs.stored(run.ID)
	assert.Equal(t, ingestion.StatusCompleted, stored.Status)
	assert.Equal(t, 1, h.runs.metrics[ingestion.ResourceLeases].Created)
	assert.Equal(t, 1, h.runs.metrics[ingestion.ResourceLeases].Skipped)

	assert.Equal(t, 1, h.fetcher.successes)
	assert.Empty(t, h.fetcher.failures)
	assert.Equal(t, 1, h.entities.recomputes)
	require.Len(t, h.alerts.runs, 1)
	assert.Equal(t, ingestion.StatusCompleted, h.alerts.runs[0].Status)
	assert.Equal(t, []uuid.UUID{run.ID}, h.utilities.runIDs)

	prop, ok := h.entities.entities[ingestion.ResourceProperties]["10"].(*ingestion.Property)
	require.True(t, ok)
	assert.Equal(t, "Maple Court", prop.Name)
	assert.Equal(t, "multi_family", prop.Type)

	unit, ok := h.entities.entities[ingestion.ResourceUnits]["101"].(*ingestion.Unit)
	require.True(t, ok)
	assert.Equal(t, ingestion.UnitOccupied, unit.Status)
	assert.Equal(t, "1250", unit.MarketRent.Decimal.String())

	vendor, ok := h.entities.entities[ingestion.ResourceVendors]["V1"].(*ingestion.Vendor)
	require.True(t, ok)
	assert.Equal(t, "ops@ace.test", vendor.Email)

	person, ok := h.entities.entities[ingestion.ResourcePeople]["T1"].(*ingestion.Person)
	require.True(t, ok)
	assert.Equal(t, "Dana", person.FirstName)
	assert.Equal(t, "Smith", person.LastName)

	lease, ok := h.entities.entities[ingestion.ResourceLeases]["L1"].(*ingestion.Lease)
	require.True(t, ok)
	require.NotNil(t, lease.PersonID)
	assert.Equal(t, h.entities.ids[ingestion.ResourcePeople]["T1"], *lease.PersonID)

	ledger, ok := h.entities.entities[ingestion.ResourceLedgerTransactions]["G1"].(*ingestion.LedgerTransaction)
	require.True(t, ok)
	assert.Equal(t, "-45", ledger.Debit.Decimal.String())
	assert.Nil(t, ledger.UnitID)

	wo, ok := h.entities.entities[ingestion.ResourceWorkOrders]["W1"].(*ingestion.WorkOrder)
	require.True(t, ok)
	require.NotNil(t, wo.VendorID)
	assert.Equal(t, h.entities.ids[ingestion.ResourceVendors]["V1"], *wo.VendorID)

	bill, ok := h.entities.entities[ingestion.ResourceBillDetails]["9001"].(*ingestion.BillDetail)
	require.True(t, ok)
	assert.Equal(t, int64(9001), bill.TxnID)
}

func TestServiceRunSecondPassUpdates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig(), WithClock(tickingClock()))
	require.NoError(t, err)

	h.fetcher.records = fullDataset()

	ctx := context.Background()

	first, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)
	_, err = h.svc.Run(ctx, first)
	require.NoError(t, err)

	rawAfterFirst := len(h.raw.events)

	second, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)
	second, err = h.svc.Run(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, ingestion.StatusCompleted, second.Status)
	assert.Equal(t, 0, second.ResourceMetrics[ingestion.ResourceProperties].Created)
	assert.Equal(t, 1, second.ResourceMetrics[ingestion.ResourceProperties].Updated)
	assert.Equal(t, 2*rawAfterFirst, len(h.raw.events), "every pull keeps its own raw event")
}

func TestProcessResourcePartialBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		rec := ingestion.Record{"property_id": json.Number(fmt.Sprint(i)), "property_name": fmt.Sprintf("P%d", i)}
		if i == 5 {
			rec["units"] = "twelve"
		}

		h.fetcher.records[ingestion.ResourceProperties] = append(h.fetcher.records[ingestion.ResourceProperties], rec)
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run, ingestion.ResourceProperties)
	require.NoError(t, err)

	assert.Equal(t, ingestion.StatusCompleted, run.Status)
	assert.Equal(t, 9, run.ResourcesSynced)
	assert.Equal(t, 1, run.ErrorCount)
	assert.True(t, strings.HasPrefix(run.ErrorSummary, "properties 5: units:"), run.ErrorSummary)

	m := run.ResourceMetrics[ingestion.ResourceProperties]
	assert.Equal(t, 9, m.Created)
	assert.Equal(t, 1, m.Errored)
	assert.Len(t, h.entities.entities[ingestion.ResourceProperties], 9)

	require.Len(t, h.runs.errors, 1)
	assert.Equal(t, "5", h.runs.errors[0].ExternalID)
	assert.Equal(t, ingestion.ResourceProperties, h.runs.errors[0].ResourceType)
	assert.Contains(t, h.runs.errors[0].Context, "pulled_at")

	assert.Equal(t, 10, h.raw.count(ingestion.ResourceProperties), "raw events are stored before mapping")
}

func TestProcessResourceRepeatedIDKeepsEveryPayload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.fetcher.records[ingestion.ResourceProperties] = []ingestion.Record{
		{"property_id": json.Number("10"), "property_name": "Old"},
		{"property_id": json.Number("10"), "property_name": "New"},
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run, ingestion.ResourceProperties)
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusCompleted, run.Status)

	property, ok := h.entities.entities[ingestion.ResourceProperties]["10"].(*ingestion.Property)
	require.True(t, ok)
	assert.Equal(t, "New", property.Name)

	assert.Equal(t, []string{
		`{"property_id":10,"property_name":"New"}`,
		`{"property_id":10,"property_name":"Old"}`,
	}, h.raw.payloads(ingestion.ResourceProperties, "10"))

	var stamps []time.Time
	for _, e := range h.raw.events {
		stamps = append(stamps, e.PulledAt)
	}

	require.Len(t, stamps, 2)
	assert.False(t, stamps[0].Equal(stamps[1]))
}

func TestProcessResourceReferences(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.entities.seed(ingestion.ResourceProperties, "10")

	h.fetcher.records[ingestion.ResourceUnits] = []ingestion.Record{
		{"unit_id": "U1", "property_id": "10"},
		{"unit_id": "U2", "property_id": "999"},
		{"unit_id": "U3"},
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	engine, err := h.svc.StartSync(ctx, run)
	require.NoError(t, err)

	m, err := engine.ProcessResource(ctx, ingestion.ResourceUnits)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Created)
	assert.Equal(t, 2, m.Skipped)
	assert.Equal(t, 0, m.Errored)
	assert.Equal(t, 3, h.raw.count(ingestion.ResourceUnits))

	assert.Equal(t, 1, h.entities.bulkLookups, "references are prefetched in one query")
	assert.Equal(t, 1, h.entities.singleLookups, "only the unknown id falls back to a single lookup")

	_, written := h.entities.entities[ingestion.ResourceUnits]["U2"]
	assert.False(t, written)

	require.NoError(t, engine.CompleteSync(ctx))
	assert.Equal(t, 0, run.ErrorCount)
}

func TestProcessResourceBillTxnIDs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.entities.seed(ingestion.ResourceProperties, "10")

	h.fetcher.records[ingestion.ResourceBillDetails] = []ingestion.Record{
		{"txn_id": json.Number("42"), "property_id": "10", "amount": "10.00"},
		{"txn_id": json.Number("0"), "property_id": "10"},
		{"txn_id": "abc", "property_id": "10"},
		{"property_id": "10"},
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run, ingestion.ResourceBillDetails)
	require.NoError(t, err)

	m := run.ResourceMetrics[ingestion.ResourceBillDetails]
	assert.Equal(t, 1, m.Created)
	assert.Equal(t, 3, m.Errored)
	assert.Equal(t, 3, run.ErrorCount)
	assert.Equal(t, 1, h.raw.count(ingestion.ResourceBillDetails), "rows without a valid id are not stored")

	for _, e := range h.runs.errors[:2] {
		assert.Contains(t, e.Message, ErrInvalidTxnID.Error())
	}

	assert.Contains(t, h.runs.errors[2].Message, ErrMissingExternalID.Error())
	assert.Len(t, h.utilities.runIDs, 1)
}

func TestProcessResourceVacantRentRollRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.entities.seed(ingestion.ResourceUnits, "100")

	h.fetcher.records[ingestion.ResourceLeases] = []ingestion.Record{
		{"unit_id": "100", "status": "Vacant-Rented"},
		{"unit_id": "100", "status": "Current"},
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run, ingestion.ResourceLeases)
	require.NoError(t, err)

	m := run.ResourceMetrics[ingestion.ResourceLeases]
	assert.Equal(t, 1, m.Skipped)
	assert.Equal(t, 1, m.Errored, "an occupied row without an occupancy id is an error")
	assert.Equal(t, 1, h.entities.recomputes)
	assert.Equal(t, testNow.Format(dateLayout), h.fetcher.params[ingestion.ResourceLeases]["as_of_to"])
	assert.Empty(t, h.utilities.runIDs)
}

func TestServiceRunFetchFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.fetcher.records = fullDataset()
	h.fetcher.errs[ingestion.ResourceUnits] = errors.New("status 503")

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run)
	require.Error(t, err)

	assert.Equal(t, ingestion.StatusFailed, run.Status)
	assert.Equal(t, 1, run.ResourcesSynced)
	assert.Equal(t, 1, run.ErrorCount)
	assert.True(t, strings.HasPrefix(run.ErrorSummary, "fetch units: status 503"), run.ErrorSummary)
	assert.Equal(t, []ingestion.ResourceType{ingestion.ResourceProperties, ingestion.ResourceUnits}, h.fetcher.calls)

	assert.Equal(t, 0, h.fetcher.successes)
	require.Len(t, h.fetcher.failures, 1)
	require.Len(t, h.alerts.runs, 1)
	assert.Equal(t, ingestion.StatusFailed, h.alerts.runs[0].Status)

	require.Len(t, h.runs.errors, 1)
	assert.Equal(t, "run", h.runs.errors[0].Context["level"])
	assert.Equal(t, ingestion.StatusFailed, h.runs.stored(run.ID).Status)
}

func TestServiceRunFetcherUnavailable(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runs := newMemRunStore()
	alerts := &recordingAlerts{}
	marker := &recordingConnections{}
	factory := func(context.Context, int64) (Fetcher, error) {
		return nil, ingestion.ErrConnectionNotFound
	}

	svc, err := NewService(DefaultConfig(), runs, newMemRawStore(), newMemEntityStore(), factory,
		WithAlertRecorder(alerts), WithConnectionMarker(marker), WithClock(fixedClock))
	require.NoError(t, err)

	ctx := context.Background()

	run, err := svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = svc.Run(ctx, run)
	require.ErrorIs(t, err, ingestion.ErrConnectionNotFound)

	assert.Equal(t, ingestion.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorSummary, "failed to initialize API client")
	assert.Len(t, alerts.runs, 1)

	require.Len(t, marker.errors, 1)
	assert.Equal(t, int64(7), marker.errors[0].id)
	assert.Contains(t, marker.errors[0].message, "failed to initialize API client")
	assert.Equal(t, testNow, marker.errors[0].at)
}

func TestServiceRunFatalStoreError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	errDown := errors.New("database is down")

	h, err := newHarness(DefaultConfig(), WithFatalErrorClassifier(func(err error) bool {
		return errors.Is(err, errDown)
	}))
	require.NoError(t, err)

	h.fetcher.records = fullDataset()
	h.entities.upsertErr = func(e ingestion.Entity) error {
		if e.Resource() == ingestion.ResourceUnits {
			return errDown
		}

		return nil
	}

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run)
	require.ErrorIs(t, err, errDown)

	assert.Equal(t, ingestion.StatusFailed, run.Status)
	assert.Len(t, h.fetcher.calls, 2, "the run stops at the first fatal error")
}

func TestServiceRunCancelled(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	h.fetcher.records = fullDataset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.fetcher.onFetch = func(rt ingestion.ResourceType) {
		if rt == ingestion.ResourceUnits {
			cancel()
		}
	}

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	run, err = h.svc.Run(ctx, run)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, ingestion.StatusFailed, run.Status)
	assert.Equal(t, ingestion.StatusFailed, h.runs.stored(run.ID).Status, "terminal state is persisted after cancellation")
	assert.NotContains(t, h.fetcher.calls, ingestion.ResourceVendors)
}

func TestReportParams(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	lastCompleted := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mode      ingestion.SyncMode
		dateRange *ingestion.DateRange
		last      *ingestion.SyncRun
		wantFrom  string
	}{
		{
			name:     "full mode looks back one year",
			mode:     ingestion.ModeFull,
			wantFrom: "2025-03-15",
		},
		{
			name: "custom range overrides",
			mode: ingestion.ModeFull,
			dateRange: &ingestion.DateRange{
				From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			},
			wantFrom: "2026-01-01",
		},
		{
			name:     "incremental continues from last completed run",
			mode:     ingestion.ModeIncremental,
			last:     &ingestion.SyncRun{Status: ingestion.StatusCompleted, CompletedAt: &lastCompleted},
			wantFrom: "2026-03-10",
		},
		{
			name:     "incremental without history uses the window",
			mode:     ingestion.ModeIncremental,
			wantFrom: "2026-03-14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := newHarness(DefaultConfig())
			require.NoError(t, err)

			h.runs.last = tt.last

			ctx := context.Background()

			run, err := h.svc.CreateRun(ctx, 7, tt.mode, tt.dateRange)
			require.NoError(t, err)

			_, err = h.svc.Run(ctx, run, ingestion.ResourceProperties, ingestion.ResourceLedgerTransactions)
			require.NoError(t, err)

			assert.Empty(t, h.fetcher.params[ingestion.ResourceProperties], "directories are fetched in full")

			params := h.fetcher.params[ingestion.ResourceLedgerTransactions]
			assert.Equal(t, tt.wantFrom, params["posted_on_from"])

			if tt.dateRange != nil {
				assert.Equal(t, "2026-01-31", params["posted_on_to"])
			} else {
				assert.Equal(t, "2026-03-15", params["posted_on_to"])
			}
		})
	}
}

func TestProcessResourcesOrdering(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	engine, err := h.svc.StartSync(ctx, run)
	require.NoError(t, err)

	err = engine.ProcessResources(ctx, []ingestion.ResourceType{
		ingestion.ResourceBillDetails, ingestion.ResourceProperties, ingestion.ResourceLeases,
	})
	require.NoError(t, err)

	assert.Equal(t, []ingestion.ResourceType{
		ingestion.ResourceProperties, ingestion.ResourceLeases, ingestion.ResourceBillDetails,
	}, h.fetcher.calls)

	err = engine.ProcessResources(ctx, []ingestion.ResourceType{"buildings"})
	require.ErrorIs(t, err, ingestion.ErrUnknownResourceType)
}

func TestEngineFinishOnce(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, 7, ingestion.ModeFull, nil)
	require.NoError(t, err)

	engine, err := h.svc.StartSync(ctx, run)
	require.NoError(t, err)

	require.NoError(t, engine.CompleteSync(ctx))
	require.ErrorIs(t, engine.CompleteSync(ctx), ErrRunFinished)
	require.ErrorIs(t, engine.FailSync(ctx, errors.New("late")), ErrRunFinished)

	_, err = engine.ProcessResource(ctx, ingestion.ResourceProperties)
	require.ErrorIs(t, err, ErrRunFinished)

	assert.Len(t, h.alerts.runs, 1)
	assert.Empty(t, h.utilities.runIDs, "no bill details were written")
}

func TestStartSyncRejectsStartedRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h, err := newHarness(DefaultConfig())
	require.NoError(t, err)

	run := ingestion.NewSyncRun(7, ingestion.ModeFull, nil)
	require.NoError(t, run.MarkRunning(testNow))

	_, err = h.svc.StartSync(context.Background(), run)
	require.ErrorIs(t, err, ingestion.ErrRunNotPending)
	assert.Empty(t, h.fetcher.calls)
}

func TestSummarizeErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	lines := make([]string, 25)
	for i := range lines {
		lines[i] = fmt.Sprintf("e%d", i)
	}

	tests := []struct {
		name   string
		lines  []string
		total  int
		sample int
		want   string
	}{
		{name: "under sample", lines: lines[:2], total: 2, sample: 10, want: "e0\ne1"},
		{name: "truncated", lines: lines, total: 25, sample: 3, want: "e0\ne1\ne2\n... and 22 more"},
		{name: "total beyond logged lines", lines: lines[:1], total: 4, sample: 10, want: "e0\n... and 3 more"},
		{name: "nothing logged", lines: nil, total: 2, sample: 10, want: "... and 2 more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeErrors(tt.lines, tt.total, tt.sample))
		})
	}
}

func TestNewServiceValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewService(DefaultConfig(), newMemRunStore(), newMemRawStore(), newMemEntityStore(), nil)
	require.ErrorIs(t, err, ErrNoFetcherFactory)

	cfg := DefaultConfig()
	cfg.ErrorSampleSize = 0

	_, err = NewService(cfg, newMemRunStore(), newMemRawStore(), newMemEntityStore(),
		func(context.Context, int64) (Fetcher, error) { return nil, nil })
	require.ErrorIs(t, err, ErrInvalidSyncConfig)
}
