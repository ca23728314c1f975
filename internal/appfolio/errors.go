package appfolio

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrRetriesExhausted is returned when every attempt of a logical call failed with a
	// retryable error.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrConnection marks a transport-level failure (DNS, refused, reset, timeout).
	ErrConnection = errors.New("connection failed")

	// ErrInvalidResponse is returned when a 2xx body is not a report page.
	ErrInvalidResponse = errors.New("invalid response body")

	// ErrCircuitOpen is returned without a request while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrUnsupportedResource is returned for a resource type with no report.
	ErrUnsupportedResource = errors.New("no report for resource type")
)

const maxErrorBody = 2048

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}

	return fmt.Sprintf("report API returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Retryable reports whether the status is rate limiting or a server error.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsClientError reports a 4xx other than 429.
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}
