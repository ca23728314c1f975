// Package alerting tracks consecutive failed sync runs per connection and notifies
// operators once a threshold is crossed, at most once per cooldown window.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/metrics"
)

var (
	// ErrAlertNotFound is returned when a connection has no alert state.
	ErrAlertNotFound = errors.New("alert state not found")

	// ErrAcknowledgeUserRequired is returned when acknowledging without a user.
	ErrAcknowledgeUserRequired = errors.New("acknowledging user is required")

	// ErrRunNotTerminal is returned when RecordRun is given a run that has not finished.
	ErrRunNotTerminal = errors.New("run is not in a terminal state")
)

type (
	// State is the persisted failure tracking for one connection.
	State struct {
		ConnectionID        int64              `json:"connection_id"`
		ConsecutiveFailures int                `json:"consecutive_failures"`
		LastAlertSentAt     *time.Time         `json:"last_alert_sent_at,omitempty"`
		LastFailedRunID     *uuid.UUID         `json:"last_failed_run_id,omitempty"`
		LastFailureSummary  string             `json:"last_failure_summary,omitempty"`
		LastFailureErrors   int                `json:"last_failure_errors"`
		LastFailureMode     ingestion.SyncMode `json:"last_failure_mode,omitempty"`
		LastFailureAt       *time.Time         `json:"last_failure_at,omitempty"`
		AcknowledgedBy      string             `json:"acknowledged_by,omitempty"`
		AcknowledgedAt      *time.Time         `json:"acknowledged_at,omitempty"`
	}

	// Alert is one notification about a connection that keeps failing.
	Alert struct {
		ConnectionID        int64              `json:"connection_id"`
		ConsecutiveFailures int                `json:"consecutive_failures"`
		RunID               uuid.UUID          `json:"run_id"`
		Mode                ingestion.SyncMode `json:"mode"`
		ErrorSummary        string             `json:"error_summary"`
		ErrorCount          int                `json:"error_count"`
		Recipients          []string           `json:"recipients"`
		TriggeredAt         time.Time          `json:"triggered_at"`
	}

	// Store persists alert state.
	Store interface {
		// GetAlertState returns the state for a connection, or ErrAlertNotFound.
		GetAlertState(ctx context.Context, connectionID int64) (*State, error)
		SaveAlertState(ctx context.Context, state *State) error
		AcknowledgeAlert(ctx context.Context, connectionID int64, user string, at time.Time) error
		ListUserEmails(ctx context.Context) ([]string, error)
	}

	// Notifier delivers an alert.
	Notifier interface {
		Notify(ctx context.Context, alert Alert) error
	}

	// Engine evaluates finished runs against the alert policy.
	Engine struct {
		cfg      Config
		store    Store
		notifier Notifier
		logger   *slog.Logger
		now      func() time.Time
	}

	// Option configures an Engine.
	Option func(*Engine)
)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an alert engine.
func NewEngine(cfg Config, store Store, notifier Notifier, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// RecordRun folds a finished run into the connection's failure count. A completed run
// (with or without record-level errors) resets the count; a failed run increments it and
// may send an alert. It returns true when an alert was sent.
func (e *Engine) RecordRun(ctx context.Context, run *ingestion.SyncRun) (bool, error) {
	if run == nil || !run.Status.IsTerminal() {
		return false, ErrRunNotTerminal
	}

	state, err := e.loadState(ctx, run.ConnectionID)
	if err != nil {
		return false, err
	}

	if run.Status == ingestion.StatusCompleted {
		if state.ConsecutiveFailures == 0 {
			return false, nil
		}

		e.logger.Info("Connection recovered, resetting failure count",
			slog.Int64("connection_id", run.ConnectionID),
			slog.Int("previous_failures", state.ConsecutiveFailures))

		state.ConsecutiveFailures = 0
		metrics.ConsecutiveFailures.WithLabelValues(metrics.ConnectionLabel(run.ConnectionID)).Set(0)

		if err := e.store.SaveAlertState(ctx, state); err != nil {
			return false, fmt.Errorf("failed to reset alert state: %w", err)
		}

		return false, nil
	}

	now := e.now().UTC()
	runID := run.ID

	state.ConsecutiveFailures++
	state.LastFailedRunID = &runID
	state.LastFailureSummary = run.ErrorSummary
	state.LastFailureErrors = run.ErrorCount
	state.LastFailureMode = run.Mode
	state.LastFailureAt = &now

	metrics.ConsecutiveFailures.WithLabelValues(metrics.ConnectionLabel(run.ConnectionID)).
		Set(float64(state.ConsecutiveFailures))

	sent, err := e.evaluate(ctx, state, run, now)
	if err != nil {
		// The failure is still counted even when delivery fails.
		if saveErr := e.store.SaveAlertState(ctx, state); saveErr != nil {
			return false, errors.Join(err, saveErr)
		}

		return false, err
	}

	if err := e.store.SaveAlertState(ctx, state); err != nil {
		return sent, fmt.Errorf("failed to save alert state: %w", err)
	}

	return sent, nil
}

func (e *Engine) evaluate(ctx context.Context, state *State, run *ingestion.SyncRun, now time.Time) (bool, error) {
	if !e.cfg.Enabled {
		return false, nil
	}

	if state.ConsecutiveFailures < e.cfg.Threshold {
		return false, nil
	}

	if state.LastAlertSentAt != nil && now.Sub(*state.LastAlertSentAt) < e.cfg.Cooldown {
		e.logger.Debug("Alert suppressed by cooldown",
			slog.Int64("connection_id", state.ConnectionID),
			slog.Time("last_alert_sent_at", *state.LastAlertSentAt))

		return false, nil
	}

	recipients := e.cfg.Recipients
	if len(recipients) == 0 {
		emails, err := e.store.ListUserEmails(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list alert recipients: %w", err)
		}

		recipients = emails
	}

	alert := Alert{
		ConnectionID:        state.ConnectionID,
		ConsecutiveFailures: state.ConsecutiveFailures,
		RunID:               run.ID,
		Mode:                run.Mode,
		ErrorSummary:        run.ErrorSummary,
		ErrorCount:          run.ErrorCount,
		Recipients:          recipients,
		TriggeredAt:         now,
	}

	if err := e.notifier.Notify(ctx, alert); err != nil {
		return false, fmt.Errorf("failed to send failure alert: %w", err)
	}

	state.LastAlertSentAt = &now

	metrics.AlertsSent.WithLabelValues(metrics.ConnectionLabel(state.ConnectionID)).Inc()

	e.logger.Warn("Sync failure alert sent",
		slog.Int64("connection_id", state.ConnectionID),
		slog.Int("consecutive_failures", state.ConsecutiveFailures),
		slog.Int("recipients", len(recipients)))

	return true, nil
}

// Acknowledge records that user has seen the alert. The failure count is not reset.
func (e *Engine) Acknowledge(ctx context.Context, connectionID int64, user string) error {
	if user == "" {
		return ErrAcknowledgeUserRequired
	}

	return e.store.AcknowledgeAlert(ctx, connectionID, user, e.now().UTC())
}

// Status returns the alert state for a connection. A connection that never failed has a
// zero state.
func (e *Engine) Status(ctx context.Context, connectionID int64) (*State, error) {
	return e.loadState(ctx, connectionID)
}

func (e *Engine) loadState(ctx context.Context, connectionID int64) (*State, error) {
	state, err := e.store.GetAlertState(ctx, connectionID)
	if errors.Is(err, ErrAlertNotFound) {
		return &State{ConnectionID: connectionID}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load alert state: %w", err)
	}

	return state, nil
}
