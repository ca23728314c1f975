// Package vocabulary maps free-text report values (unit status, lease status, work order
// status and priority, property type) onto the fixed canonical vocabularies.
//
// Built-in tables cover the values the reports emit. Operators can add exact aliases and
// wildcard patterns per table in .propsync.yaml without a release.
package vocabulary

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/propsync-io/propsync/internal/config"
)

type (
	// Config holds vocabulary overrides loaded from .propsync.yaml.
	Config struct {
		// Tables maps a table name (e.g. "unit_status") to its overrides.
		Tables map[Table]TableConfig `yaml:"vocabulary"`
	}

	// TableConfig holds the overrides for one table.
	TableConfig struct {
		// Aliases maps a raw value to a canonical value. Keys are normalized before use.
		Aliases map[string]string `yaml:"aliases"`

		// Patterns are tried in order after exact aliases miss.
		Patterns []PatternConfig `yaml:"patterns"`
	}

	// PatternConfig is one wildcard rule. "{name}" captures one segment, "{name*}" captures
	// the rest of the value.
	PatternConfig struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}
)

// DefaultConfigPath is the default location for the propsync configuration file.
const DefaultConfigPath = ".propsync.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "PROPSYNC_CONFIG_PATH"

// LoadConfig loads vocabulary overrides from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist; overrides are optional
//   - Returns empty config and logs a warning if the YAML is invalid
//   - Returns populated config on success
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Tables: make(map[Table]TableConfig)}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, using built-in vocabulary",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, using built-in vocabulary",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, using built-in vocabulary",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{Tables: make(map[Table]TableConfig)}, nil
	}

	if cfg.Tables == nil {
		cfg.Tables = make(map[Table]TableConfig)
	}

	for table := range cfg.Tables {
		if !table.IsValid() {
			slog.Warn("Ignoring overrides for unknown vocabulary table",
				slog.String("table", string(table)))
			delete(cfg.Tables, table)
		}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path in PROPSYNC_CONFIG_PATH, falling back to
// ".propsync.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
