// Package metrics holds the Prometheus instruments shared by the sync pipeline, the API
// client and the query server. Collectors register with the default registry at init.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream API client

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_api_requests_total",
			Help: "Upstream report API requests by HTTP status class",
		},
		[]string{"status_class"}, // "2xx", "4xx", "429", "5xx", "transport"
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_api_retries_total",
			Help: "Upstream report API retries by reason",
		},
		[]string{"reason"}, // "rate_limited", "server_error", "connection"
	)

	APIBackoffSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "propsync_api_backoff_seconds",
			Help:    "Backoff delays applied before retrying an upstream request",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Sync pipeline

	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_records_processed_total",
			Help: "Report records processed by resource type and outcome",
		},
		[]string{"resource", "outcome"},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_pages_fetched_total",
			Help: "Report pages fetched by resource type",
		},
		[]string{"resource"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_sync_runs_total",
			Help: "Finished sync runs by mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propsync_sync_run_duration_seconds",
			Help:    "Wall-clock duration of finished sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode"},
	)

	// Alerting

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_failure_alerts_sent_total",
			Help: "Failure alerts sent by connection",
		},
		[]string{"connection_id"},
	)

	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "propsync_connection_consecutive_failures",
			Help: "Current consecutive failed sync runs per connection",
		},
		[]string{"connection_id"},
	)

	// Query server

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propsync_http_requests_total",
			Help: "Query API requests by route and status code",
		},
		[]string{"route", "method", "status"},
	)
)

// StatusClass buckets an HTTP status for the APIRequests label.
func StatusClass(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}

// ConnectionLabel formats a connection id as a label value.
func ConnectionLabel(connectionID int64) string {
	return strconv.FormatInt(connectionID, 10)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
