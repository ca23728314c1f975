// Package appfolio is the client for the property-management reporting API.
//
// Every logical call is retried on rate limiting (429), server errors (5xx) and
// connection failures with capped multiplicative backoff. Other 4xx responses fail at once.
// Multi-page reports are walked by following the opaque next_page_url returned with
// each page.
//
// Features:
//   - Retry-After honored on 429 (capped at MaxBackoff), ignored on 5xx
//   - Backoff waits and pacing are cancelled with the context
//   - Client-side pacing with a token bucket
//   - Optional circuit breaker around whole logical calls
package appfolio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/metrics"
)

const (
	maxResponseBody = 64 << 20
	breakerName     = "report-api"
)

type (
	// SleepFunc blocks for d or until ctx is done.
	SleepFunc func(ctx context.Context, d time.Duration) error

	// StatusRecorder persists connection health.
	StatusRecorder interface {
		MarkConnectionSuccess(ctx context.Context, id int64, at time.Time) error
		MarkConnectionError(ctx context.Context, id int64, message string, at time.Time) error
	}

	// ConnectionSource loads a connection and records its health.
	ConnectionSource interface {
		StatusRecorder
		GetConnection(ctx context.Context, id int64) (*ingestion.Connection, error)
	}

	// Client issues report API calls for one connection.
	//
	// Thread Safety: Safe for concurrent use, although the sync engine drives it from a
	// single goroutine.
	Client struct {
		cfg          Config
		baseURL      *url.URL
		httpClient   *http.Client
		limiter      *rate.Limiter
		breaker      *gobreaker.CircuitBreaker[json.RawMessage]
		sleep        SleepFunc
		logger       *slog.Logger
		recorder     StatusRecorder
		connectionID int64
		now          func() time.Time
	}

	// Option customizes a Client.
	Option func(*Client)
)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(sleep SleepFunc) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithStatusRecorder enables MarkSuccess and MarkError for the given connection.
func WithStatusRecorder(connectionID int64, recorder StatusRecorder) Option {
	return func(c *Client) {
		c.connectionID = connectionID
		c.recorder = recorder
	}
}

// NewClient creates a client from a resolved configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		sleep:      sleepContext,
		logger:     slog.Default(),
		now:        time.Now,
	}

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	for _, opt := range opts {
		opt(c)
	}

	if cfg.BreakerEnabled {
		c.breaker = newBreaker(cfg, c.logger)
	}

	return c, nil
}

// NewForConnection loads the connection, resolves the config from it and wires connection
// status recording.
func NewForConnection(
	ctx context.Context,
	source ConnectionSource,
	connectionID int64,
	base Config,
	opts ...Option,
) (*Client, error) {
	conn, err := source.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %d: %w", connectionID, err)
	}

	opts = append([]Option{WithStatusRecorder(connectionID, source)}, opts...)

	return NewClient(base.ForConnection(conn), opts...)
}

func newBreaker(cfg Config, logger *slog.Logger) *gobreaker.CircuitBreaker[json.RawMessage] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Client errors and cancellation say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsClientError(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2 //nolint:mnd
	default:
		return 0
	}
}

// Request executes one logical API call with retries and returns the raw JSON body.
//
// Endpoints are resolved against the base URL; an absolute URL is used as-is. Params are
// sent as a JSON body for POST and as query parameters otherwise.
func (c *Client) Request(ctx context.Context, method, endpoint string, params map[string]any) (json.RawMessage, error) {
	if c.breaker == nil {
		return c.requestWithRetry(ctx, method, endpoint, params)
	}

	body, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.requestWithRetry(ctx, method, endpoint, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}

	return body, err
}

func (c *Client) requestWithRetry(
	ctx context.Context,
	method, endpoint string,
	params map[string]any,
) (json.RawMessage, error) {
	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.do(ctx, method, target, params)
		if err == nil {
			return body, nil
		}

		reason, retryAfter, retryable := classify(ctx, err)
		if !retryable {
			return nil, err
		}

		lastErr = err

		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.BackoffDelay(attempt+1, retryAfter)

		c.logger.Warn("Retrying report API request",
			slog.String("method", method),
			slog.String("endpoint", target.Path),
			slog.String("reason", reason),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		metrics.APIRetries.WithLabelValues(reason).Inc()
		metrics.APIBackoffSeconds.Observe(delay.Seconds())

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.cfg.MaxRetries+1, lastErr)
}

// classify decides whether err is worth another attempt. Retry-After is only honored for 429.
func classify(ctx context.Context, err error) (reason string, retryAfter time.Duration, retryable bool) {
	if ctx.Err() != nil {
		return "", 0, false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited", apiErr.RetryAfter, true
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return "server_error", 0, true
		default:
			return "", 0, false
		}
	}

	if errors.Is(err, ErrConnection) {
		return "connection", 0, true
	}

	return "", 0, false
}

// BackoffDelay returns the wait before retry number attempt (1-based). A positive
// retryAfter wins, capped at MaxBackoff; otherwise the delay is
// InitialBackoff × BackoffMultiplier^(attempt-1), capped at MaxBackoff.
func (c *Client) BackoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	return backoffDelay(c.cfg, attempt, retryAfter)
}

func backoffDelay(cfg Config, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, cfg.MaxBackoff)
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || delay >= float64(cfg.MaxBackoff) {
		return cfg.MaxBackoff
	}

	return time.Duration(delay)
}

func (c *Client) resolve(endpoint string) (*url.URL, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	if ref.IsAbs() {
		return ref, nil
	}

	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	target.RawQuery = ref.RawQuery

	return &target, nil
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, method string, target *url.URL, params map[string]any) (json.RawMessage, error) {
	var body io.Reader = http.NoBody

	reqURL := *target

	if len(params) > 0 {
		if method == http.MethodPost || method == http.MethodPut {
			payload, err := gojson.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request params: %w", err)
			}

			body = bytes.NewReader(payload)
		} else {
			q := reqURL.Query()
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}

			reqURL.RawQuery = q.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Accept", "application/json")

	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues("transport").Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	metrics.APIRequests.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	if !gojson.Valid(data) {
		return nil, fmt.Errorf("%w: %d bytes of non-JSON from %s", ErrInvalidResponse, len(data), target.Path)
	}

	return json.RawMessage(data), nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}

		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// MarkSuccess records a healthy connection. It never touches retry state.
func (c *Client) MarkSuccess(ctx context.Context) error {
	if c.recorder == nil {
		return nil
	}

	return c.recorder.MarkConnectionSuccess(ctx, c.connectionID, c.now().UTC())
}

// MarkError records a connection failure. It never touches retry state.
func (c *Client) MarkError(ctx context.Context, cause error) error {
	if c.recorder == nil {
		return nil
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	return c.recorder.MarkConnectionError(ctx, c.connectionID, msg, c.now().UTC())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
