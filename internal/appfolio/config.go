package appfolio

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
)

const (
	defaultMaxRetries        = 5
	defaultInitialBackoff    = 2 * time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultRequestTimeout    = 60 * time.Second
	defaultRequestsPerSecond = 2.0
	defaultBreakerFailures   = 5
	defaultBreakerTimeout    = 2 * time.Minute
)

// Sentinel errors for configuration validation.
var (
	ErrMissingBaseURL     = errors.New("base URL is required")
	ErrInvalidBaseURL     = errors.New("base URL must be an absolute http(s) URL")
	ErrMissingCredentials = errors.New("client id and client secret are required")
	ErrInvalidRetryConfig = errors.New("invalid retry configuration")
)

// Config holds the report API client configuration. It is resolved once per client and
// never changes for the client's lifetime.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RequestTimeout    time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// BreakerEnabled wraps whole logical calls in a circuit breaker that opens after
	// BreakerFailures consecutive terminal failures and stays open for BreakerTimeout.
	BreakerEnabled  bool
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// LoadConfig loads retry, pacing and breaker settings from environment variables.
// Connection-specific fields (base URL, credentials) are filled in by ForConnection.
//
// Environment variables:
//   - PROPSYNC_API_MAX_RETRIES: Retries after the first attempt (default: 5)
//   - PROPSYNC_API_INITIAL_BACKOFF: First backoff delay (default: 2s)
//   - PROPSYNC_API_MAX_BACKOFF: Backoff cap (default: 30s)
//   - PROPSYNC_API_BACKOFF_MULTIPLIER: Growth factor per attempt (default: 2)
//   - PROPSYNC_API_REQUEST_TIMEOUT: Per-request timeout (default: 60s)
//   - PROPSYNC_API_REQUESTS_PER_SECOND: Client-side pacing, 0 disables (default: 2)
//   - PROPSYNC_API_BREAKER_ENABLED: Enable the circuit breaker (default: true)
//   - PROPSYNC_API_BREAKER_FAILURES: Consecutive failures before opening (default: 5)
//   - PROPSYNC_API_BREAKER_TIMEOUT: Open-state duration (default: 2m)
func LoadConfig() Config {
	return Config{
		MaxRetries:        config.GetEnvInt("PROPSYNC_API_MAX_RETRIES", defaultMaxRetries),
		InitialBackoff:    config.GetEnvDuration("PROPSYNC_API_INITIAL_BACKOFF", defaultInitialBackoff),
		MaxBackoff:        config.GetEnvDuration("PROPSYNC_API_MAX_BACKOFF", defaultMaxBackoff),
		BackoffMultiplier: config.GetEnvFloat("PROPSYNC_API_BACKOFF_MULTIPLIER", defaultBackoffMultiplier),
		RequestTimeout:    config.GetEnvDuration("PROPSYNC_API_REQUEST_TIMEOUT", defaultRequestTimeout),
		RequestsPerSecond: config.GetEnvFloat("PROPSYNC_API_REQUESTS_PER_SECOND", defaultRequestsPerSecond),
		BreakerEnabled:    config.GetEnvBool("PROPSYNC_API_BREAKER_ENABLED", true),
		BreakerFailures: uint32(max(1, //nolint:gosec // bounded below, small operator value
			config.GetEnvInt("PROPSYNC_API_BREAKER_FAILURES", defaultBreakerFailures))),
		BreakerTimeout: config.GetEnvDuration("PROPSYNC_API_BREAKER_TIMEOUT", defaultBreakerTimeout),
	}
}

// ForConnection returns a copy of c with the connection's base URL and credentials.
func (c Config) ForConnection(conn *ingestion.Connection) Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(conn.BaseURL), "/")
	c.ClientID = conn.ClientID
	c.ClientSecret = conn.ClientSecret

	return c
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}

	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidRetryConfig, c.MaxRetries)
	}

	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff must be positive", ErrInvalidRetryConfig)
	}

	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max backoff %s is below initial backoff %s",
			ErrInvalidRetryConfig, c.MaxBackoff, c.InitialBackoff)
	}

	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1, got %g", ErrInvalidRetryConfig, c.BackoffMultiplier)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidRetryConfig)
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must be >= 0", ErrInvalidRetryConfig)
	}

	return nil
}
