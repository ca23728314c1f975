package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/appfolio"
	"github.com/propsync-io/propsync/internal/ingestion"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// tickingClock advances one millisecond per call.
func tickingClock() func() time.Time {
	var ticks int64

	return func() time.Time {
		ticks++

		return testNow.Add(time.Duration(ticks) * time.Millisecond)
	}
}

type memRunStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]ingestion.SyncRun
	statuses  []ingestion.RunStatus
	errors    []ingestion.RunError
	metrics   map[ingestion.ResourceType]ingestion.ResourceMetrics
	last      *ingestion.SyncRun
	appendErr error
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		runs:    make(map[uuid.UUID]ingestion.SyncRun),
		metrics: make(map[ingestion.ResourceType]ingestion.ResourceMetrics),
	}
}

func (m *memRunStore) CreateRun(_ context.Context, run *ingestion.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = *run

	return nil
}

func (m *memRunStore) UpdateRun(_ context.Context, run *ingestion.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.runs[run.ID]; ok && stored.Status.IsTerminal() {
		return fmt.Errorf("run %s is %s", run.ID, stored.Status)
	}

	m.runs[run.ID] = *run
	m.statuses = append(m.statuses, run.Status)

	return nil
}

func (m *memRunStore) SaveResourceMetrics(
	_ context.Context,
	_ uuid.UUID,
	resource ingestion.ResourceType,
	metrics ingestion.ResourceMetrics,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics[resource] = metrics

	return nil
}

func (m *memRunStore) AppendRunError(_ context.Context, runErr *ingestion.RunError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}

	m.errors = append(m.errors, *runErr)

	return nil
}

func (m *memRunStore) GetRun(_ context.Context, runID uuid.UUID) (*ingestion.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ingestion.ErrRunNotFound
	}

	return &run, nil
}

func (m *memRunStore) LastCompletedRun(context.Context, int64) (*ingestion.SyncRun, error) {
	return m.last, nil
}

func (m *memRunStore) stored(id uuid.UUID) ingestion.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.runs[id]
}

// memRawStore keys events like the raw_events primary key.
type memRawStore struct {
	events map[string]ingestion.RawEvent
	order  []ingestion.ResourceType
}

func newMemRawStore() *memRawStore {
	return &memRawStore{events: make(map[string]ingestion.RawEvent)}
}

func (m *memRawStore) SaveRawEvent(_ context.Context, event *ingestion.RawEvent) (bool, error) {
	key := fmt.Sprintf("%s|%s|%s", event.ResourceType, event.ExternalID,
		event.PulledAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano))
	if _, ok := m.events[key]; ok {
		return false, nil
	}

	m.events[key] = *event
	m.order = append(m.order, event.ResourceType)

	return true, nil
}

func (m *memRawStore) payloads(rt ingestion.ResourceType, externalID string) []string {
	var out []string

	for _, e := range m.events {
		if e.ResourceType == rt && e.ExternalID == externalID {
			out = append(out, string(e.Payload))
		}
	}

	sort.Strings(out)

	return out
}

func (m *memRawStore) count(rt ingestion.ResourceType) int {
	n := 0

	for _, e := range m.events {
		if e.ResourceType == rt {
			n++
		}
	}

	return n
}

type memEntityStore struct {
	next          int64
	ids           map[ingestion.ResourceType]map[string]int64
	entities      map[ingestion.ResourceType]map[string]ingestion.Entity
	bulkLookups   int
	singleLookups int
	recomputes    int
	upsertErr     func(ingestion.Entity) error
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{
		ids:      make(map[ingestion.ResourceType]map[string]int64),
		entities: make(map[ingestion.ResourceType]map[string]ingestion.Entity),
	}
}

func (m *memEntityStore) seed(rt ingestion.ResourceType, ext string) int64 {
	m.next++

	if m.ids[rt] == nil {
		m.ids[rt] = make(map[string]int64)
	}

	m.ids[rt][ext] = m.next

	return m.next
}

func (m *memEntityStore) LookupIDs(
	_ context.Context,
	rt ingestion.ResourceType,
	externalIDs []string,
) (map[string]int64, error) {
	m.bulkLookups++

	found := make(map[string]int64)

	for _, ext := range externalIDs {
		if id, ok := m.ids[rt][ext]; ok {
			found[ext] = id
		}
	}

	return found, nil
}

func (m *memEntityStore) LookupID(_ context.Context, rt ingestion.ResourceType, ext string) (int64, bool, error) {
	m.singleLookups++

	id, ok := m.ids[rt][ext]

	return id, ok, nil
}

func (m *memEntityStore) Upsert(_ context.Context, _ uuid.UUID, entity ingestion.Entity) (int64, bool, error) {
	if m.upsertErr != nil {
		if err := m.upsertErr(entity); err != nil {
			return 0, false, err
		}
	}

	rt := entity.Resource()

	if m.entities[rt] == nil {
		m.entities[rt] = make(map[string]ingestion.Entity)
	}

	m.entities[rt][entity.Key()] = entity

	if id, ok := m.ids[rt][entity.Key()]; ok {
		return id, false, nil
	}

	return m.seed(rt, entity.Key()), true, nil
}

func (m *memEntityStore) RecomputeUnitOccupancy(context.Context, time.Time) (int64, error) {
	m.recomputes++

	return 0, nil
}

type fakeFetcher struct {
	records   map[ingestion.ResourceType][]ingestion.Record
	errs      map[ingestion.ResourceType]error
	params    map[ingestion.ResourceType]appfolio.Params
	calls     []ingestion.ResourceType
	onFetch   func(ingestion.ResourceType)
	successes int
	failures  []error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: make(map[ingestion.ResourceType][]ingestion.Record),
		errs:    make(map[ingestion.ResourceType]error),
		params:  make(map[ingestion.ResourceType]appfolio.Params),
	}
}

func (f *fakeFetcher) FetchResource(
	_ context.Context,
	rt ingestion.ResourceType,
	params appfolio.Params,
	onProgress appfolio.ProgressFunc,
	_ int,
) ([]ingestion.Record, error) {
	f.calls = append(f.calls, rt)
	f.params[rt] = params

	if f.onFetch != nil {
		f.onFetch(rt)
	}

	if err := f.errs[rt]; err != nil {
		return nil, err
	}

	if onProgress != nil {
		onProgress(appfolio.Progress{Page: 1, Records: len(f.records[rt])})
	}

	return f.records[rt], nil
}

func (f *fakeFetcher) MarkSuccess(context.Context) error {
	f.successes++

	return nil
}

func (f *fakeFetcher) MarkError(_ context.Context, cause error) error {
	f.failures = append(f.failures, cause)

	return nil
}

type recordingAlerts struct {
	runs []ingestion.SyncRun
}

func (r *recordingAlerts) RecordRun(_ context.Context, run *ingestion.SyncRun) (bool, error) {
	r.runs = append(r.runs, *run)

	return false, nil
}

type markedError struct {
	id      int64
	message string
	at      time.Time
}

type recordingConnections struct {
	errors []markedError
}

func (r *recordingConnections) MarkConnectionError(_ context.Context, id int64, message string, at time.Time) error {
	r.errors = append(r.errors, markedError{id: id, message: message, at: at})

	return nil
}

type recordingUtilities struct {
	runIDs []uuid.UUID
}

func (r *recordingUtilities) ProcessSyncRun(_ context.Context, runID uuid.UUID) (int64, error) {
	r.runIDs = append(r.runIDs, runID)

	return 1, nil
}

type harness struct {
	runs      *memRunStore
	raw       *memRawStore
	entities  *memEntityStore
	fetcher   *fakeFetcher
	alerts    *recordingAlerts
	utilities *recordingUtilities
	svc       *Service
}

func newHarness(cfg Config, opts ...Option) (*harness, error) {
	h := &harness{
		runs:      newMemRunStore(),
		raw:       newMemRawStore(),
		entities:  newMemEntityStore(),
		fetcher:   newFakeFetcher(),
		alerts:    &recordingAlerts{},
		utilities: &recordingUtilities{},
	}

	factory := func(context.Context, int64) (Fetcher, error) { return h.fetcher, nil }

	opts = append([]Option{
		WithAlertRecorder(h.alerts),
		WithUtilityProcessor(h.utilities),
		WithClock(fixedClock),
	}, opts...)

	svc, err := NewService(cfg, h.runs, h.raw, h.entities, factory, opts...)
	if err != nil {
		return nil, err
	}

	h.svc = svc

	return h, nil
}
