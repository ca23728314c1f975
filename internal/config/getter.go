// Package config reads propsync settings from the environment and hosts the shared
// integration test database helpers.
//
// Every getter falls back to its default when the variable is unset or blank. A value that
// is set but does not parse also falls back, with a warning naming the variable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the parsed value of key, or defaultValue when key is unset, blank or
// unparsable.
func lookup[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	value, err := parse(raw)
	if err != nil {
		slog.Warn("Ignoring invalid environment value, using default",
			slog.String("key", key),
			slog.String("value", raw),
			slog.Any("default", defaultValue),
			slog.String("error", err.Error()))

		return defaultValue
	}

	return value
}

// GetEnvStr returns a string environment variable value or a default if not set.
//
//	host := GetEnvStr("PROPSYNC_SERVER_HOST", "0.0.0.0")
func GetEnvStr(key, defaultValue string) string {
	return lookup(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// GetEnvInt returns an int environment variable value or a default.
func GetEnvInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

// GetEnvInt64 returns an int64 environment variable value or a default.
//
//	size := GetEnvInt64("PROPSYNC_SERVER_MAX_REQUEST_SIZE", 65536)
func GetEnvInt64(key string, defaultValue int64) int64 {
	return lookup(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// GetEnvFloat returns a float64 environment variable value or a default.
func GetEnvFloat(key string, defaultValue float64) float64 {
	return lookup(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvBool accepts true/1/yes and false/0/no, case-insensitively.
//
//	enabled := GetEnvBool("PROPSYNC_ALERT_ENABLED", true)
func GetEnvBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, parseBool)
}

// GetEnvDuration returns a time.ParseDuration value ("90s", "24h") or a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// GetEnvLogLevel accepts debug, info, warn (or warning) and error.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	return lookup(key, defaultValue, parseLogLevel)
}

// ParseCommaSeparatedList splits input on commas, trims each part and drops empty ones.
func ParseCommaSeparatedList(input string) []string {
	result := []string{}

	for part := range strings.SplitSeq(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}
