// Package syncer runs sync runs: it fetches each report, records the raw rows, maps them
// onto canonical entities in referential order and finishes the run.
//
// A Service holds the process-wide collaborators. Each run gets its own Engine, which owns
// the entity cache, the per-resource trackers and the error tally for that run only.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/appfolio"
	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/metrics"
	"github.com/propsync-io/propsync/internal/storage"
	"github.com/propsync-io/propsync/internal/vocabulary"
)

var (
	// ErrRunFinished is returned when an engine is used after CompleteSync or FailSync.
	ErrRunFinished = errors.New("sync run already finished")

	// ErrNoFetcherFactory is returned when a Service is built without a fetcher factory.
	ErrNoFetcherFactory = errors.New("fetcher factory is required")
)

type (
	// Fetcher pulls report records for one connection and records its health.
	// *appfolio.Client satisfies it.
	Fetcher interface {
		FetchResource(
			ctx context.Context,
			resource ingestion.ResourceType,
			params appfolio.Params,
			onProgress appfolio.ProgressFunc,
			maxPages int,
		) ([]ingestion.Record, error)
		MarkSuccess(ctx context.Context) error
		MarkError(ctx context.Context, cause error) error
	}

	// FetcherFactory builds the Fetcher for a connection.
	FetcherFactory func(ctx context.Context, connectionID int64) (Fetcher, error)

	// AlertRecorder receives every finished run.
	AlertRecorder interface {
		RecordRun(ctx context.Context, run *ingestion.SyncRun) (bool, error)
	}

	// ConnectionMarker records a connection as errored when no Fetcher could be built for it.
	ConnectionMarker interface {
		MarkConnectionError(ctx context.Context, id int64, message string, at time.Time) error
	}

	// UtilityProcessor derives utility expenses from the bill details a run wrote.
	UtilityProcessor interface {
		ProcessSyncRun(ctx context.Context, runID uuid.UUID) (int64, error)
	}

	// Service starts sync runs.
	Service struct {
		cfg        Config
		runs       ingestion.RunStore
		rawEvents  ingestion.RawEventStore
		entities   ingestion.EntityStore
		newFetcher FetcherFactory
		vocab      *vocabulary.Resolver
		alerts     AlertRecorder
		utilities  UtilityProcessor
		connection ConnectionMarker
		isFatal    func(error) bool
		logger     *slog.Logger
		now        func() time.Time
	}

	// Option configures a Service.
	Option func(*Service)

	// Engine is the session state of one sync run.
	Engine struct {
		svc      *Service
		run      *ingestion.SyncRun
		fetcher  Fetcher
		cache    *EntityCache
		logger   *slog.Logger
		since    time.Time
		asOf     time.Time
		totals   ingestion.ResourceMetrics
		errors   []string
		failures int
		billRows int
		lastPull time.Time
		finished bool
	}
)

// WithVocabulary sets the resolver used for status and type vocabularies.
func WithVocabulary(r *vocabulary.Resolver) Option {
	return func(s *Service) { s.vocab = r }
}

// WithAlertRecorder hands every finished run to r.
func WithAlertRecorder(r AlertRecorder) Option {
	return func(s *Service) { s.alerts = r }
}

// WithUtilityProcessor enables utility expense derivation after bill details change.
func WithUtilityProcessor(p UtilityProcessor) Option {
	return func(s *Service) { s.utilities = p }
}

// WithConnectionMarker sets where connection failures are recorded when the fetcher
// factory fails.
func WithConnectionMarker(m ConnectionMarker) Option {
	return func(s *Service) { s.connection = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFatalErrorClassifier decides which record-level errors abort the run instead of
// being counted. Defaults to database connection errors.
func WithFatalErrorClassifier(isFatal func(error) bool) Option {
	return func(s *Service) { s.isFatal = isFatal }
}

// NewService creates a sync service.
func NewService(
	cfg Config,
	runs ingestion.RunStore,
	rawEvents ingestion.RawEventStore,
	entities ingestion.EntityStore,
	newFetcher FetcherFactory,
	opts ...Option,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if newFetcher == nil {
		return nil, ErrNoFetcherFactory
	}

	s := &Service{
		cfg:        cfg,
		runs:       runs,
		rawEvents:  rawEvents,
		entities:   entities,
		newFetcher: newFetcher,
		vocab:      vocabulary.NewResolver(nil),
		isFatal:    storage.IsConnectionError,
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// CreateRun validates and persists a new pending run.
func (s *Service) CreateRun(
	ctx context.Context,
	connectionID int64,
	mode ingestion.SyncMode,
	dateRange *ingestion.DateRange,
) (*ingestion.SyncRun, error) {
	run := ingestion.NewSyncRun(connectionID, mode, dateRange)
	run.CreatedAt = s.now().UTC()

	if err := ingestion.ValidateSyncRun(run); err != nil {
		return nil, err
	}

	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	return run, nil
}

// StartSync moves a pending run to running and returns its engine. If the connection's
// fetcher cannot be built the run is failed and the error returned.
func (s *Service) StartSync(ctx context.Context, run *ingestion.SyncRun) (*Engine, error) {
	if err := ingestion.ValidateSyncRun(run); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := run.MarkRunning(now); err != nil {
		return nil, err
	}

	if err := s.runs.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to mark run running: %w", err)
	}

	e := &Engine{
		svc:   s,
		run:   run,
		cache: NewEntityCache(s.entities),
		asOf:  now,
		logger: s.logger.With(
			slog.String("sync_run_id", run.ID.String()),
			slog.Int64("connection_id", run.ConnectionID),
			slog.String("mode", string(run.Mode))),
	}

	e.logger.Info("Sync run started")

	fetcher, err := s.newFetcher(ctx, run.ConnectionID)
	if err != nil {
		cause := fmt.Errorf("failed to initialize API client: %w", err)

		return nil, errors.Join(cause, e.FailSync(ctx, cause))
	}

	e.fetcher = fetcher

	since, err := s.incrementalSince(ctx, run, now)
	if err != nil {
		return nil, errors.Join(err, e.FailSync(ctx, err))
	}

	e.since = since

	return e, nil
}

// incrementalSince continues from the last completed run, or looks back one window.
func (s *Service) incrementalSince(ctx context.Context, run *ingestion.SyncRun, now time.Time) (time.Time, error) {
	if run.Mode != ingestion.ModeIncremental {
		return time.Time{}, nil
	}

	last, err := s.runs.LastCompletedRun(ctx, run.ConnectionID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last completed run: %w", err)
	}

	if last != nil && last.CompletedAt != nil {
		return *last.CompletedAt, nil
	}

	return now.Add(-s.cfg.IncrementalWindow), nil
}

// Run drives a pending run to a terminal state: StartSync, then every requested resource
// (all of them when none are given), then CompleteSync or FailSync.
func (s *Service) Run(
	ctx context.Context,
	run *ingestion.SyncRun,
	resources ...ingestion.ResourceType,
) (*ingestion.SyncRun, error) {
	engine, err := s.StartSync(ctx, run)
	if err != nil {
		return run, err
	}

	if len(resources) == 0 {
		err = engine.ProcessAll(ctx)
	} else {
		err = engine.ProcessResources(ctx, resources)
	}

	if err != nil {
		return run, errors.Join(err, engine.FailSync(ctx, err))
	}

	return run, engine.CompleteSync(ctx)
}

// Run returns the run this engine drives.
func (e *Engine) Run() *ingestion.SyncRun {
	return e.run
}

// Cache returns the run's entity cache.
func (e *Engine) Cache() *EntityCache {
	return e.cache
}

// ProcessAll processes every resource type in referential order. It stops at the first
// run-level error, including cancellation.
func (e *Engine) ProcessAll(ctx context.Context) error {
	return e.ProcessResources(ctx, ingestion.ResourceTypes())
}

// ProcessResources processes the given resource types in referential order regardless of
// the order they are passed in.
func (e *Engine) ProcessResources(ctx context.Context, resources []ingestion.ResourceType) error {
	ordered := make([]ingestion.ResourceType, 0, len(resources))

	for _, rt := range ingestion.ResourceTypes() {
		if slices.Contains(resources, rt) {
			ordered = append(ordered, rt)
		}
	}

	for _, rt := range resources {
		if !rt.IsValid() {
			return fmt.Errorf("%w: %q", ingestion.ErrUnknownResourceType, rt)
		}
	}

	for _, rt := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := e.ProcessResource(ctx, rt); err != nil {
			return err
		}
	}

	return nil
}

// ProcessResource fetches and ingests one resource type. Record-level problems are counted
// in the returned metrics; a returned error means the run cannot continue.
func (e *Engine) ProcessResource(ctx context.Context, resource ingestion.ResourceType) (ingestion.ResourceMetrics, error) {
	if e.finished {
		return ingestion.ResourceMetrics{}, ErrRunFinished
	}

	h, err := handlerFor(resource)
	if err != nil {
		return ingestion.ResourceMetrics{}, err
	}

	tracker := newResourceTracker(e.run.ID, resource, e.svc.runs, e.logger, e.svc.now)

	err = e.processResource(ctx, h, tracker)

	m, finishErr := tracker.Finish(context.WithoutCancel(ctx))
	e.absorb(resource, tracker)

	if err != nil {
		return m, err
	}

	return m, finishErr
}

func (e *Engine) processResource(
	ctx context.Context,
	h *handler,
	tracker *ResourceTracker,
) error {
	records, err := e.fetcher.FetchResource(ctx, h.resource, e.reportParams(h), func(p appfolio.Progress) {
		metrics.PagesFetched.WithLabelValues(h.resource.String()).Inc()
		e.logger.Debug("Fetched report page",
			slog.String("resource_type", h.resource.String()),
			slog.Int("page", p.Page),
			slog.Int("records", p.Records),
			slog.Bool("has_more", p.HasMore))
	}, e.svc.cfg.MaxPages)
	if err != nil {
		// FailSync records the cause in the run's error log.
		return fmt.Errorf("fetch %s: %w", h.resource, err)
	}

	if err := e.prefetch(ctx, h, records); err != nil {
		return err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		pulledAt := e.pullStamp()
		outcome := e.processRecord(ctx, h, rec, pulledAt)

		if outcome.Kind == ingestion.OutcomeErrored && e.svc.isFatal(outcome.Err) {
			return fmt.Errorf("%s %s: %w", h.resource, outcome.ExternalID, outcome.Err)
		}

		errCtx := map[string]any{"pulled_at": pulledAt.Format(time.RFC3339Nano)}
		if err := tracker.Record(ctx, outcome, errCtx); err != nil {
			if e.svc.isFatal(err) {
				return fmt.Errorf("failed to record error: %w", err)
			}

			e.logger.Error("Failed to append run error", slog.String("error", err.Error()))
		}
	}

	if h.resource == ingestion.ResourceLeases {
		e.recomputeOccupancy(ctx, tracker)
	}

	return nil
}

func (e *Engine) recomputeOccupancy(ctx context.Context, tracker *ResourceTracker) {
	if _, err := e.svc.entities.RecomputeUnitOccupancy(ctx, e.asOf); err != nil {
		cause := fmt.Errorf("recompute unit occupancy: %w", err)
		if logErr := tracker.Fail(ctx, cause, nil); logErr != nil {
			e.logger.Error("Failed to record occupancy error", slog.String("error", logErr.Error()))
		}
	}
}

// pullStamp returns the pulled_at for the next fetched row. Stamps have microsecond
// precision, matching TIMESTAMPTZ, and strictly increase within a run so a row repeated in
// a batch keeps its own raw event.
func (e *Engine) pullStamp() time.Time {
	stamp := e.svc.now().UTC().Truncate(time.Microsecond)
	if !stamp.After(e.lastPull) {
		stamp = e.lastPull.Add(time.Microsecond)
	}

	e.lastPull = stamp

	return stamp
}

// absorb folds a finished tracker into the run totals.
func (e *Engine) absorb(resource ingestion.ResourceType, tracker *ResourceTracker) {
	m := tracker.Metrics()

	e.totals.Created += m.Created
	e.totals.Updated += m.Updated
	e.totals.Skipped += m.Skipped
	e.totals.Errored += m.Errored
	e.failures += len(tracker.Errors()) - m.Errored
	e.errors = append(e.errors, tracker.Errors()...)

	if e.run.ResourceMetrics == nil {
		e.run.ResourceMetrics = make(map[ingestion.ResourceType]ingestion.ResourceMetrics)
	}

	e.run.ResourceMetrics[resource] = m

	if resource == ingestion.ResourceBillDetails {
		e.billRows += m.Synced()
	}
}

// prefetch bulk-loads every id the batch references.
func (e *Engine) prefetch(ctx context.Context, h *handler, records []ingestion.Record) error {
	for _, ref := range h.refs {
		ids := make([]string, 0, len(records))

		for _, rec := range records {
			if id, ok := rec.String(ref.field); ok {
				ids = append(ids, id)
			}
		}

		if err := e.cache.Prefetch(ctx, ref.resource, ids); err != nil {
			if e.svc.isFatal(err) {
				return err
			}

			// Resolve falls back to single-row lookups.
			e.logger.Warn("Reference prefetch failed",
				slog.String("resource_type", h.resource.String()),
				slog.String("reference", ref.resource.String()),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// processRecord takes one row through id extraction, raw event storage, reference
// resolution, mapping and upsert.
func (e *Engine) processRecord(
	ctx context.Context,
	h *handler,
	rec ingestion.Record,
	pulledAt time.Time,
) ingestion.Outcome {
	if h.skip != nil {
		if reason, ok := h.skip(rec, e.svc.vocab); ok {
			return ingestion.Skipped("", reason)
		}
	}

	ext, err := h.extractID(rec)
	if err != nil {
		return ingestion.Errored("", err)
	}

	payload, err := gojson.Marshal(rec)
	if err != nil {
		return ingestion.Errored(ext, fmt.Errorf("encode raw payload: %w", err))
	}

	if _, err := e.svc.rawEvents.SaveRawEvent(ctx, &ingestion.RawEvent{
		ResourceType: h.resource,
		ExternalID:   ext,
		PulledAt:     pulledAt,
		Payload:      payload,
		SyncRunID:    e.run.ID,
	}); err != nil {
		return ingestion.Errored(ext, err)
	}

	resolved, reason, err := e.resolveRefs(ctx, h, rec)
	if err != nil {
		return ingestion.Errored(ext, err)
	}

	if reason != "" {
		return ingestion.Skipped(ext, reason)
	}

	f := &fields{rec: rec}

	entity := h.build(f, ext, resolved, e.svc.vocab)
	if f.err != nil {
		return ingestion.Errored(ext, f.err)
	}

	id, created, err := e.svc.entities.Upsert(ctx, e.run.ID, entity)
	if err != nil {
		return ingestion.Errored(ext, err)
	}

	e.cache.Put(h.resource, entity.Key(), id)

	if created {
		return ingestion.Created(ext)
	}

	return ingestion.Updated(ext)
}

// resolveRefs returns the internal ids for a row's references, or a skip reason when a
// required reference is missing or unknown.
func (e *Engine) resolveRefs(ctx context.Context, h *handler, rec ingestion.Record) (refs, string, error) {
	resolved := make(refs, len(h.refs))

	for _, ref := range h.refs {
		ext, ok := rec.String(ref.field)
		if !ok {
			if ref.required {
				return nil, fmt.Sprintf("missing %s reference", singular(ref.resource)), nil
			}

			resolved[ref.resource] = nil

			continue
		}

		id, found, err := e.cache.Resolve(ctx, ref.resource, ext)
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s %s: %w", singular(ref.resource), ext, err)
		}

		if !found {
			if ref.required {
				return nil, fmt.Sprintf("unresolved %s reference %q", singular(ref.resource), ext), nil
			}

			resolved[ref.resource] = nil

			continue
		}

		resolved[ref.resource] = &id
	}

	return resolved, "", nil
}

func singular(rt ingestion.ResourceType) string {
	switch rt {
	case ingestion.ResourcePeople:
		return "person"
	case ingestion.ResourceProperties:
		return "property"
	default:
		return strings.TrimSuffix(rt.String(), "s")
	}
}

// reportParams builds the report filters for this run.
func (e *Engine) reportParams(h *handler) appfolio.Params {
	params := appfolio.Params{}

	if h.dates != nil {
		from, to := e.window()
		params[h.dates.from] = from.Format(dateLayout)
		params[h.dates.to] = to.Format(dateLayout)
	}

	if h.asOf != "" {
		params[h.asOf] = e.asOf.Format(dateLayout)
	}

	return params
}

// window is the date range for dated reports: the custom range when set, the full
// lookback in full mode, and everything since the last completed run in incremental mode.
func (e *Engine) window() (time.Time, time.Time) {
	if dr := e.run.DateRange; dr != nil {
		return dr.From, dr.To
	}

	if e.run.Mode == ingestion.ModeIncremental {
		return e.since, e.asOf
	}

	return e.asOf.Add(-e.svc.cfg.FullLookback), e.asOf
}

// CompleteSync finishes the run as completed. Record-level errors do not fail a run;
// they are tallied and summarized.
func (e *Engine) CompleteSync(ctx context.Context) error {
	if e.finished {
		return ErrRunFinished
	}

	ctx = context.WithoutCancel(ctx)
	errorCount := e.totals.Errored + e.failures

	summary := ""
	if errorCount > 0 {
		summary = summarizeErrors(e.errors, errorCount, e.svc.cfg.ErrorSampleSize)
	}

	if err := e.run.MarkCompleted(e.svc.now().UTC(), e.totals.Synced(), errorCount, summary); err != nil {
		return err
	}

	e.finished = true

	if err := e.svc.runs.UpdateRun(ctx, e.run); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	if err := e.fetcher.MarkSuccess(ctx); err != nil {
		e.logger.Warn("Failed to mark connection healthy", slog.String("error", err.Error()))
	}

	if e.billRows > 0 && e.svc.utilities != nil {
		if _, err := e.svc.utilities.ProcessSyncRun(ctx, e.run.ID); err != nil {
			e.logger.Error("Utility expense processing failed", slog.String("error", err.Error()))
		}
	}

	e.finish(ctx)

	return nil
}

// FailSync finishes the run as failed with cause recorded in its error log and summary.
func (e *Engine) FailSync(ctx context.Context, cause error) error {
	if e.finished {
		return ErrRunFinished
	}

	ctx = context.WithoutCancel(ctx)

	if cause == nil {
		cause = errors.New("sync failed")
	}

	if err := e.svc.runs.AppendRunError(ctx, &ingestion.RunError{
		SyncRunID: e.run.ID,
		Message:   cause.Error(),
		Context:   map[string]any{"level": "run"},
		CreatedAt: e.svc.now().UTC(),
	}); err != nil {
		e.logger.Error("Failed to record run failure", slog.String("error", err.Error()))
	}

	errorCount := e.totals.Errored + e.failures + 1
	lines := append([]string{cause.Error()}, e.errors...)
	summary := summarizeErrors(lines, errorCount, e.svc.cfg.ErrorSampleSize)

	if err := e.run.MarkFailed(e.svc.now().UTC(), e.totals.Synced(), errorCount, summary); err != nil {
		return err
	}

	e.finished = true

	if err := e.svc.runs.UpdateRun(ctx, e.run); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}

	if err := e.markConnectionError(ctx, cause); err != nil {
		e.logger.Warn("Failed to mark connection errored", slog.String("error", err.Error()))
	}

	e.finish(ctx)

	return nil
}

func (e *Engine) markConnectionError(ctx context.Context, cause error) error {
	if e.fetcher != nil {
		return e.fetcher.MarkError(ctx, cause)
	}

	if e.svc.connection != nil {
		return e.svc.connection.MarkConnectionError(ctx, e.run.ConnectionID, cause.Error(), e.svc.now().UTC())
	}

	return nil
}

func (e *Engine) finish(ctx context.Context) {
	metrics.SyncRuns.WithLabelValues(string(e.run.Mode), string(e.run.Status)).Inc()
	metrics.SyncRunDuration.WithLabelValues(string(e.run.Mode)).Observe(e.run.Duration().Seconds())

	e.logger.Info("Sync run finished",
		slog.String("status", string(e.run.Status)),
		slog.Int("resources_synced", e.run.ResourcesSynced),
		slog.Int("error_count", e.run.ErrorCount),
		slog.Duration("duration", e.run.Duration()))

	if e.svc.alerts == nil {
		return
	}

	if _, err := e.svc.alerts.RecordRun(ctx, e.run); err != nil {
		e.logger.Error("Failure alert evaluation failed", slog.String("error", err.Error()))
	}
}

// summarizeErrors keeps the first sample lines and notes how many were left out.
func summarizeErrors(lines []string, total, sample int) string {
	if len(lines) > sample {
		lines = lines[:sample]
	}

	summary := strings.Join(lines, "\n")

	if rest := total - len(lines); rest > 0 {
		if summary != "" {
			summary += "\n"
		}

		summary += fmt.Sprintf("... and %d more", rest)
	}

	return summary
}
