package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/propsync-io/propsync/internal/alerting"
	"github.com/propsync-io/propsync/internal/api/middleware"
	"github.com/propsync-io/propsync/internal/history"
	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/metrics"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"
	dateLayout             = "2006-01-02"
)

var errInvalidQueryParam = errors.New("invalid query parameter")

// setupRoutes registers every route. Health checks and /metrics sit outside the rate limit.
func (s *Server) setupRoutes(r chi.Router) {
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	for _, route := range []Route{
		{http.MethodGet, "/ping", s.handlePing},
		{http.MethodGet, "/ready", s.handleReady},
		{http.MethodGet, "/health", s.handleHealth},
		{http.MethodGet, "/metrics", metrics.Handler().ServeHTTP},
	} {
		r.Method(route.Method, route.Path, route.Handler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.RealIP)

		if s.deps.RateLimiter != nil {
			r.Use(middleware.RateLimit(s.deps.RateLimiter, s.logger))
		}

		if s.deps.History != nil {
			r.Get("/sync-runs", s.handleListRuns)
			r.Get("/sync-runs/{id}", s.handleGetRun)
			r.Get("/sync-runs/{id}/errors", s.handleListRunErrors)
		} else {
			s.logger.Warn("Run history not configured - sync run routes disabled")
		}

		if s.deps.Alerts != nil {
			r.Get("/connections/{id}/alert", s.handleGetAlert)
			r.Post("/connections/{id}/alert/acknowledge", s.handleAcknowledgeAlert)
		} else {
			s.logger.Warn("Alerting not configured - alert routes disabled")
		}
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Propsync-Version", Version)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logWriteError(r, err)
	}
}

// handleReady answers readiness checks: 200 when the database responds within two
// seconds, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.logger.Error("Storage health check failed",
				slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
				slog.String("error", err.Error()),
			)

			WriteErrorResponse(w, r, s.logger, ServiceUnavailable("storage unavailable"))

			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logWriteError(r, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "propsync",
		Version:     Version,
		Uptime:      uptime,
	})
}

// handleListRuns serves GET /api/v1/sync-runs?connection_id=&status=&limit=&offset=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	connectionID, err := queryInt64(q.Get("connection_id"))
	if err != nil || connectionID < 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("connection_id must be a positive integer"))

		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	list, err := s.deps.History.ListRuns(r.Context(), history.RunFilter{
		ConnectionID: connectionID,
		Status:       ingestion.RunStatus(strings.ToLower(q.Get("status"))),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toSyncRunListResponse(list))
}

// handleGetRun serves GET /api/v1/sync-runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.deps.History.GetRun(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toSyncRunResponse(run))
}

// handleListRunErrors serves GET /api/v1/sync-runs/{id}/errors?limit=&offset=.
func (s *Server) handleListRunErrors(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	list, err := s.deps.History.ListRunErrors(r.Context(), runID, limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toRunErrorListResponse(runID.String(), list))
}

// handleGetAlert serves GET /api/v1/connections/{id}/alert.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	state, err := s.deps.Alerts.Status(r.Context(), connectionID)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toAlertStateResponse(state))
}

// handleAcknowledgeAlert serves POST /api/v1/connections/{id}/alert/acknowledge with a
// {"user": "..."} body and returns the updated state.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := s.connectionID(w, r)
	if !ok {
		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req AcknowledgeRequest

	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := gojson.NewDecoder(body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body must be a JSON object with a user field"))

		return
	}

	if err := s.deps.Alerts.Acknowledge(r.Context(), connectionID, strings.TrimSpace(req.User)); err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	state, err := s.deps.Alerts.Status(r.Context(), connectionID)
	if err != nil {
		s.writeDomainError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, toAlertStateResponse(state))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, MethodNotAllowed(r.Method+" is not supported on "+r.URL.Path))
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("sync run id must be a UUID"))

		return uuid.Nil, false
	}

	return runID, true
}

func (s *Server) connectionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("connection id must be a positive integer"))

		return 0, false
	}

	return id, true
}

// writeDomainError maps service errors onto problem responses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingestion.ErrRunNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound("sync run not found"))
	case errors.Is(err, alerting.ErrAlertNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound("no alert recorded for this connection"))
	case errors.Is(err, history.ErrInvalidPagination),
		errors.Is(err, history.ErrInvalidStatusFilter),
		errors.Is(err, alerting.ErrAcknowledgeUserRequired):
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))
	default:
		s.logger.Error("Request failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("An unexpected error occurred"))
	}
}

// writeJSON marshals before writing headers so an encoding failure still yields a problem
// response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := gojson.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logWriteError(r, err)
	}
}

func (s *Server) logWriteError(r *http.Request, err error) {
	s.logger.Error("Failed to write response",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}

func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()

	limit, err := queryInt64(q.Get("limit"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: limit must be an integer", err)
	}

	offset, err := queryInt64(q.Get("offset"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: offset must be an integer", err)
	}

	return int(limit), int(offset), nil
}

// queryInt64 parses an optional integer query value; empty means 0.
func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errInvalidQueryParam
	}

	return n, nil
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
