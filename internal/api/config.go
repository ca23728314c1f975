package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/propsync-io/propsync/internal/api/middleware"
	"github.com/propsync-io/propsync/internal/config"
)

const (
	defaultPort           int    = 8080
	maxPort               int    = 65535
	defaultHost           string = "0.0.0.0"
	defaultCORSMaxAge     int    = 86400
	defaultTimeout               = 30 * time.Second
	defaultLogLevel              = slog.LevelInfo
	defaultMaxRequestSize int64  = 64 * 1024
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxRequestSize indicates the max request size is zero or negative.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")
)

// ServerConfig holds HTTP server configuration. Runtime dependencies are passed to
// NewServer separately.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	MaxRequestSize  int64
	CORS            middleware.CORSPolicy
}

// LoadServerConfig loads server configuration from PROPSYNC_SERVER_* environment variables.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("PROPSYNC_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("PROPSYNC_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("PROPSYNC_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("PROPSYNC_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("PROPSYNC_SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("PROPSYNC_SERVER_LOG_LEVEL", defaultLogLevel),
		MaxRequestSize:  config.GetEnvInt64("PROPSYNC_SERVER_MAX_REQUEST_SIZE", defaultMaxRequestSize),
		CORS: middleware.CORSPolicy{
			AllowedOrigins: corsList("PROPSYNC_CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: corsList("PROPSYNC_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: corsList("PROPSYNC_CORS_ALLOWED_HEADERS", "Content-Type,X-Correlation-ID"),
			MaxAge:         config.GetEnvInt("PROPSYNC_CORS_MAX_AGE", defaultCORSMaxAge),
		},
	}
}

func corsList(key, defaultValue string) []string {
	return config.ParseCommaSeparatedList(config.GetEnvStr(key, defaultValue))
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the port range, host, timeouts and request size limit.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	for _, timeout := range []struct {
		value time.Duration
		err   error
	}{
		{c.ReadTimeout, ErrInvalidReadTimeout},
		{c.WriteTimeout, ErrInvalidWriteTimeout},
		{c.ShutdownTimeout, ErrInvalidShutdownTimeout},
	} {
		if timeout.value <= 0 {
			return fmt.Errorf("%w: got %v", timeout.err, timeout.value)
		}
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	return nil
}
