package alerting

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/propsync-io/propsync/internal/config"
)

const (
	defaultThreshold = 3
	defaultCooldown  = 24 * time.Hour
)

var (
	// ErrInvalidThreshold is returned for a threshold below 1.
	ErrInvalidThreshold = errors.New("alert threshold must be at least 1")

	// ErrInvalidCooldown is returned for a negative cooldown.
	ErrInvalidCooldown = errors.New("alert cooldown cannot be negative")
)

type (
	// Config controls when failure alerts fire and who receives them.
	Config struct {
		// Enabled turns notifications on. Failure counting happens regardless.
		Enabled bool

		// Threshold is the number of consecutive failed runs that triggers an alert.
		Threshold int

		// Cooldown is the minimum time between two alerts for one connection.
		Cooldown time.Duration

		// Recipients overrides the default of alerting every known user.
		Recipients []string
	}

	// fileConfig is the "alerts" section of .propsync.yaml.
	fileConfig struct {
		Alerts struct {
			Enabled    *bool    `yaml:"enabled"`
			Threshold  int      `yaml:"threshold"`
			Cooldown   string   `yaml:"cooldown"`
			Recipients []string `yaml:"recipients"`
		} `yaml:"alerts"`
	}
)

// LoadConfig reads PROPSYNC_ALERT_* environment variables.
//
// Environment variables:
//   - PROPSYNC_ALERT_ENABLED: send notifications (default: true)
//   - PROPSYNC_ALERT_THRESHOLD: consecutive failures before alerting (default: 3)
//   - PROPSYNC_ALERT_COOLDOWN: minimum time between alerts (default: 24h)
//   - PROPSYNC_ALERT_RECIPIENTS: comma-separated emails (default: all users)
func LoadConfig() Config {
	return Config{
		Enabled:    config.GetEnvBool("PROPSYNC_ALERT_ENABLED", true),
		Threshold:  config.GetEnvInt("PROPSYNC_ALERT_THRESHOLD", defaultThreshold),
		Cooldown:   config.GetEnvDuration("PROPSYNC_ALERT_COOLDOWN", defaultCooldown),
		Recipients: config.ParseCommaSeparatedList(config.GetEnvStr("PROPSYNC_ALERT_RECIPIENTS", "")),
	}
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{Enabled: true, Threshold: defaultThreshold, Cooldown: defaultCooldown}
}

// Validate checks the threshold and cooldown.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, c.Threshold)
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, c.Cooldown)
	}

	return nil
}

// MergeFile overlays the "alerts" section of a YAML config file. Values present in the
// file win over c. A missing or unparsable file leaves c unchanged.
func (c Config) MergeFile(path string) Config {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read config file, using environment alert settings",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}

		return c
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("Failed to parse config file, using environment alert settings",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return c
	}

	if fc.Alerts.Enabled != nil {
		c.Enabled = *fc.Alerts.Enabled
	}

	if fc.Alerts.Threshold > 0 {
		c.Threshold = fc.Alerts.Threshold
	}

	if fc.Alerts.Cooldown != "" {
		d, err := time.ParseDuration(fc.Alerts.Cooldown)
		if err != nil {
			slog.Warn("Ignoring invalid alert cooldown in config file",
				slog.String("cooldown", fc.Alerts.Cooldown))
		} else {
			c.Cooldown = d
		}
	}

	if len(fc.Alerts.Recipients) > 0 {
		c.Recipients = fc.Alerts.Recipients
	}

	return c
}
