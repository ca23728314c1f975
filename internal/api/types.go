package api

import (
	"net/http"
	"time"

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/ingestion"
)

type (
	// HealthStatus is the /health response.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route is a path and its handler.
	Route struct {
		Method  string
		Path    string
		Handler http.HandlerFunc
	}

	// DateRangeResponse is a custom run window.
	DateRangeResponse struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	// SyncRunResponse is one sync run with its per-resource metrics.
	SyncRunResponse struct {
		ID              string                               `json:"id"`
		ConnectionID    int64                                `json:"connection_id"`
		Mode            string                               `json:"mode"`
		Status          string                               `json:"status"`
		StartedAt       *time.Time                           `json:"started_at,omitempty"`
		CompletedAt     *time.Time                           `json:"completed_at,omitempty"`
		DurationMs      int64                                `json:"duration_ms"`
		ResourcesSynced int                                  `json:"resources_synced"`
		ErrorCount      int                                  `json:"error_count"`
		ErrorSummary    string                               `json:"error_summary,omitempty"`
		DateRange       *DateRangeResponse                   `json:"date_range,omitempty"`
		ResourceMetrics map[string]ingestion.ResourceMetrics `json:"resource_metrics,omitempty"`
		CreatedAt       time.Time                            `json:"created_at"`
	}

	// SyncRunListResponse is a page of runs.
	SyncRunListResponse struct {
		Runs   []SyncRunResponse `json:"runs"`
		Total  int               `json:"total"`
		Limit  int               `json:"limit"`
		Offset int               `json:"offset"`
	}

	// RunErrorResponse is one entry of a run's error log.
	RunErrorResponse struct {
		ResourceType string         `json:"resource_type,omitempty"`
		ExternalID   string         `json:"external_id,omitempty"`
		Message      string         `json:"message"`
		Context      map[string]any `json:"context,omitempty"`
		CreatedAt    time.Time      `json:"created_at"`
	}

	// RunErrorListResponse is a page of a run's error log.
	RunErrorListResponse struct {
		RunID  string             `json:"run_id"`
		Errors []RunErrorResponse `json:"errors"`
		Total  int                `json:"total"`
		Limit  int                `json:"limit"`
		Offset int                `json:"offset"`
	}

	// AcknowledgeRequest is the body of an alert acknowledgment.
	AcknowledgeRequest struct {
		User string `json:"user"`
	}

	// AlertStateResponse is the failure alert state of a connection.
	AlertStateResponse struct {
		ConnectionID        int64      `json:"connection_id"`
		ConsecutiveFailures int        `json:"consecutive_failures"`
		LastAlertSentAt     *time.Time `json:"last_alert_sent_at,omitempty"`
		LastFailedRunID     string     `json:"last_failed_run_id,omitempty"`
		LastFailureSummary  string     `json:"last_failure_summary,omitempty"`
		LastFailureErrors   int        `json:"last_failure_errors"`
		LastFailureMode     string     `json:"last_failure_mode,omitempty"`
		LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
		AcknowledgedBy      string     `json:"acknowledged_by,omitempty"`
		AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	}
)

func toSyncRunResponse(run *ingestion.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:              run.ID.String(),
		ConnectionID:    run.ConnectionID,
		Mode:            string(run.Mode),
		Status:          string(run.Status),
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
		DurationMs:      run.Duration().Milliseconds(),
		ResourcesSynced: run.ResourcesSynced,
		ErrorCount:      run.ErrorCount,
		ErrorSummary:    run.ErrorSummary,
		CreatedAt:       run.CreatedAt,
	}

	if run.DateRange != nil {
		resp.DateRange = &DateRangeResponse{
			From: run.DateRange.From.Format(dateLayout),
			To:   run.DateRange.To.Format(dateLayout),
		}
	}

	if len(run.ResourceMetrics) > 0 {
		resp.ResourceMetrics = make(map[string]ingestion.ResourceMetrics, len(run.ResourceMetrics))
		for rt, m := range run.ResourceMetrics {
			resp.ResourceMetrics[rt.String()] = m
		}
	}

	return resp
}

func toSyncRunListResponse(list *history.RunList) SyncRunListResponse {
	resp := SyncRunListResponse{
		Runs:   make([]SyncRunResponse, 0, len(list.Runs)),
		Total:  list.Total,
		Limit:  list.Limit,
		Offset: list.Offset,
	}

	for _, run := range list.Runs {
		resp.Runs = append(resp.Runs, toSyncRunResponse(run))
	}

	return resp
}

func toRunErrorListResponse(runID string, list *history.ErrorList) RunErrorListResponse {
	resp := RunErrorListResponse{
		RunID:  runID,
		Errors: make([]RunErrorResponse, 0, len(list.Errors)),
		Total:  list.Total,
		Limit:  list.Limit,
		Offset: list.Offset,
	}

	for _, e := range list.Errors {
		resp.Errors = append(resp.Errors, RunErrorResponse{
			ResourceType: e.ResourceType.String(),
			ExternalID:   e.ExternalID,
			Message:      e.Message,
			Context:      e.Context,
			CreatedAt:    e.CreatedAt,
		})
	}

	return resp
}

func toAlertStateResponse(state *alerting.State) AlertStateResponse {
	resp := AlertStateResponse{
		ConnectionID:        state.ConnectionID,
		ConsecutiveFailures: state.ConsecutiveFailures,
		LastAlertSentAt:     state.LastAlertSentAt,
		LastFailureSummary:  state.LastFailureSummary,
		LastFailureErrors:   state.LastFailureErrors,
		LastFailureMode:     string(state.LastFailureMode),
		LastFailureAt:       state.LastFailureAt,
		AcknowledgedBy:      state.AcknowledgedBy,
		AcknowledgedAt:      state.AcknowledgedAt,
	}

	if state.LastFailedRunID != nil {
		resp.LastFailedRunID = state.LastFailedRunID.String()
	}

	return resp
}
