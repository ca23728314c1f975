package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/api/middleware"
	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/ingestion"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type fakeHistory struct {
	runs       map[uuid.UUID]*ingestion.SyncRun
	errs       []ingestion.RunError
	lastFilter history.RunFilter
	failWith   error
}

func (f *fakeHistory) ListRuns(_ context.Context, filter history.RunFilter) (*history.RunList, error) {
	f.lastFilter = filter

	if f.failWith != nil {
		return nil, f.failWith
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, history.ErrInvalidStatusFilter
	}

	list := &history.RunList{Limit: filter.Limit, Offset: filter.Offset}
	for _, r := range f.runs {
		list.Runs = append(list.Runs, r)
	}

	list.Total = len(list.Runs)

	return list, nil
}

func (f *fakeHistory) GetRun(_ context.Context, runID uuid.UUID) (*ingestion.SyncRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, ingestion.ErrRunNotFound
	}

	return run, nil
}

func (f *fakeHistory) ListRunErrors(_ context.Context, runID uuid.UUID, limit, offset int) (*history.ErrorList, error) {
	if _, ok := f.runs[runID]; !ok {
		return nil, ingestion.ErrRunNotFound
	}

	return &history.ErrorList{Errors: f.errs, Total: len(f.errs), Limit: limit, Offset: offset}, nil
}

type fakeAlerts struct {
	states map[int64]*alerting.State
}

func (f *fakeAlerts) Status(_ context.Context, connectionID int64) (*alerting.State, error) {
	if s, ok := f.states[connectionID]; ok {
		return s, nil
	}

	return &alerting.State{ConnectionID: connectionID}, nil
}

func (f *fakeAlerts) Acknowledge(_ context.Context, connectionID int64, user string) error {
	if user == "" {
		return alerting.ErrAcknowledgeUserRequired
	}

	s, ok := f.states[connectionID]
	if !ok {
		return alerting.ErrAlertNotFound
	}

	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	s.AcknowledgedBy = user
	s.AcknowledgedAt = &now

	return nil
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "localhost",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        slog.LevelInfo,
		MaxRequestSize:  1024,
		CORS: middleware.CORSPolicy{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         60,
		},
	}
}

func newTestServer(deps Dependencies) *Server {
	return newServer(testServerConfig(), deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(s *Server, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()

	assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))

	var p ProblemDetail
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &p))

	return p
}

func TestHealthEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(Dependencies{Health: fakeHealth{}})

	rec := serve(s, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))

	rec = serve(s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "propsync", health.ServiceName)

	rec = serve(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(Dependencies{Health: fakeHealth{err: errors.New("connection refused")}})
	rec = serve(down, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(Dependencies{History: &fakeHistory{}})

	rec := serve(s, http.MethodGet, "/api/v1/nope", nil, middleware.CorrelationIDHeader, "corr-1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	p := decodeProblem(t, rec)
	assert.Equal(t, "/api/v1/nope", p.Instance)
	assert.Equal(t, "corr-1", p.CorrelationID)
	assert.Equal(t, "https://propsync.io/problems/404", p.Type)

	rec = serve(s, http.MethodDelete, "/api/v1/sync-runs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncRunRoutes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	started := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	run := &ingestion.SyncRun{
		ID:              uuid.New(),
		ConnectionID:    3,
		Mode:            ingestion.ModeFull,
		Status:          ingestion.StatusCompleted,
		StartedAt:       &started,
		CompletedAt:     &finished,
		ResourcesSynced: 12,
		ErrorCount:      1,
		ErrorSummary:    "units U9: bedrooms: invalid integer",
		ResourceMetrics: map[ingestion.ResourceType]ingestion.ResourceMetrics{
			ingestion.ResourceUnits: {Created: 12, Errored: 1},
		},
		DateRange: &ingestion.DateRange{
			From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		CreatedAt: started,
	}

	hist := &fakeHistory{
		runs: map[uuid.UUID]*ingestion.SyncRun{run.ID: run},
		errs: []ingestion.RunError{{
			SyncRunID:    run.ID,
			ResourceType: ingestion.ResourceUnits,
			ExternalID:   "U9",
			Message:      "bedrooms: invalid integer",
			Context:      map[string]any{"pulled_at": "2026-03-15T10:00:30Z"},
		}},
	}

	s := newTestServer(Dependencies{History: hist})

	t.Run("list", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/sync-runs?connection_id=3&status=Completed&limit=5&offset=10", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, history.RunFilter{
			ConnectionID: 3, Status: ingestion.StatusCompleted, Limit: 5, Offset: 10,
		}, hist.lastFilter)

		var list SyncRunListResponse
		require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Runs, 1)
		assert.Equal(t, 1, list.Total)
		assert.Equal(t, int64(90000), list.Runs[0].DurationMs)
	})

	t.Run("list rejects bad parameters", func(t *testing.T) {
		for _, target := range []string{
			"/api/v1/sync-runs?connection_id=abc",
			"/api/v1/sync-runs?connection_id=-1",
			"/api/v1/sync-runs?limit=ten",
			"/api/v1/sync-runs?status=exploded",
		} {
			rec := serve(s, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
	})

	t.Run("detail", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/sync-runs/"+run.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got SyncRunResponse
		require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, run.ID.String(), got.ID)
		assert.Equal(t, "completed", got.Status)
		assert.Equal(t, 12, got.ResourceMetrics["units"].Created)
		require.NotNil(t, got.DateRange)
		assert.Equal(t, "2026-01-01", got.DateRange.From)
	})

	t.Run("detail of unknown run", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/sync-runs/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = serve(s, http.MethodGet, "/api/v1/sync-runs/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("errors", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/sync-runs/"+run.ID.String()+"/errors?limit=20", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got RunErrorListResponse
		require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got.Errors, 1)
		assert.Equal(t, "U9", got.Errors[0].ExternalID)
		assert.Equal(t, "units", got.Errors[0].ResourceType)
		assert.Equal(t, 20, got.Limit)
	})

	t.Run("store failure is a 500", func(t *testing.T) {
		hist.failWith = errors.New("connection reset")
		defer func() { hist.failWith = nil }()

		rec := serve(s, http.MethodGet, "/api/v1/sync-runs", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})
}

func TestAlertRoutes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runID := uuid.New()
	alerts := &fakeAlerts{states: map[int64]*alerting.State{
		5: {ConnectionID: 5, ConsecutiveFailures: 3, LastFailedRunID: &runID, LastFailureMode: ingestion.ModeIncremental},
	}}

	s := newTestServer(Dependencies{Alerts: alerts})

	rec := serve(s, http.MethodGet, "/api/v1/connections/5/alert", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state AlertStateResponse
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 3, state.ConsecutiveFailures)
	assert.Equal(t, runID.String(), state.LastFailedRunID)

	rec = serve(s, http.MethodGet, "/api/v1/connections/9/alert", nil)
	require.Equal(t, http.StatusOK, rec.Code, "a connection that never failed has a zero state")

	rec = serve(s, http.MethodGet, "/api/v1/connections/zero/alert", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tests := []struct {
		name        string
		connection  string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "acknowledged", connection: "5", contentType: "application/json", body: `{"user":"ops@example.test"}`, wantStatus: http.StatusOK},
		{name: "missing user", connection: "5", contentType: "application/json", body: `{"user":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", connection: "5", contentType: "application/json", body: `{"user":`, wantStatus: http.StatusBadRequest},
		{name: "wrong content type", connection: "5", contentType: "text/plain", body: `user=ops`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "no alert recorded", connection: "9", contentType: "application/json", body: `{"user":"ops"}`, wantStatus: http.StatusNotFound},
		{name: "oversized body", connection: "5", contentType: "application/json", body: `{"user":"` + strings.Repeat("x", 2048) + `"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, http.MethodPost, "/api/v1/connections/"+tt.connection+"/alert/acknowledge",
				strings.NewReader(tt.body), "Content-Type", tt.contentType)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, "ops@example.test", alerts.states[5].AcknowledgedBy)
	assert.Equal(t, 3, alerts.states[5].ConsecutiveFailures, "acknowledging does not reset the counter")
}

func TestRateLimitedAPI(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := middleware.NewInMemoryRateLimiter(&middleware.Config{GlobalRPS: 100, ClientRPS: 1, ClientBurst: 1})
	defer func() { _ = limiter.Close() }()

	s := newTestServer(Dependencies{History: &fakeHistory{}, RateLimiter: limiter})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/v1/sync-runs", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(s, http.MethodGet, "/api/v1/sync-runs", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/ping", nil).Code, "health endpoints are not rate limited")
}

func TestServerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{name: "valid", mutate: func(*ServerConfig) {}},
		{name: "port", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "host", mutate: func(c *ServerConfig) { c.Host = "" }, wantErr: ErrEmptyHost},
		{name: "read timeout", mutate: func(c *ServerConfig) { c.ReadTimeout = 0 }, wantErr: ErrInvalidReadTimeout},
		{name: "request size", mutate: func(c *ServerConfig) { c.MaxRequestSize = 0 }, wantErr: ErrInvalidMaxRequestSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, "localhost:8080", testServerConfig().Address())
}

func TestLoadServerConfigCORS(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("PROPSYNC_CORS_ALLOWED_ORIGINS", "https://ops.example.test, https://admin.example.test")
	t.Setenv("PROPSYNC_CORS_MAX_AGE", "120")
	t.Setenv("PROPSYNC_SERVER_HOST", "127.0.0.1")
	t.Setenv("PROPSYNC_SERVER_PORT", "9000")

	cfg := LoadServerConfig()

	assert.Equal(t, middleware.CORSPolicy{
		AllowedOrigins: []string{"https://ops.example.test", "https://admin.example.test"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-ID"},
		MaxAge:         120,
	}, cfg.CORS)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
}
