package storage

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/propsync-io/propsync/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute

	defaultRawEventRetention = 0
	defaultCleanupInterval   = time.Hour
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrInvalidRetention is returned for a negative raw event retention.
	ErrInvalidRetention = errors.New("raw event retention cannot be negative")
)

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections

	// RawEventRetention deletes raw events older than this. Zero keeps them forever.
	RawEventRetention time.Duration
	CleanupInterval   time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // DatabaseURL is private for obvious reasons.
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),

		RawEventRetention: config.GetEnvDuration("PROPSYNC_RAW_EVENT_RETENTION", defaultRawEventRetention),
		CleanupInterval:   config.GetEnvDuration("PROPSYNC_RAW_EVENT_CLEANUP_INTERVAL", defaultCleanupInterval),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.RawEventRetention < 0 {
		return ErrInvalidRetention
	}

	return nil
}

// NewConfig returns the default pool settings for an explicit database URL.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		CleanupInterval: defaultCleanupInterval,
	}
}

// MaskDatabaseURL returns the database URL with its password replaced by "***". A URL
// that does not parse is masked entirely.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	u, err := url.Parse(c.databaseURL)
	if err != nil {
		return "***"
	}

	if u.User == nil {
		return c.databaseURL
	}

	if password, ok := u.User.Password(); !ok || password == "" {
		return c.databaseURL
	}

	u.User = url.UserPassword(u.User.Username(), "***")

	return u.String()
}
