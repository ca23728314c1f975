package middleware

import (
	"time"

	"github.com/propsync-io/propsync/internal/config"
)

// Config holds rate limiter configuration.
//
// Two tiers, in requests per second: a global limit over all requests and a per-client
// limit keyed by remote IP. A burst of 0 means 2 × rate.
type Config struct {
	GlobalRPS int
	ClientRPS int

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("PROPSYNC_SERVER_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("PROPSYNC_SERVER_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("PROPSYNC_SERVER_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("PROPSYNC_SERVER_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"PROPSYNC_SERVER_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("PROPSYNC_SERVER_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("PROPSYNC_SERVER_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
