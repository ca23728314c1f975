package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/storage"
)

const defaultMigrationTable = "schema_migrations"

var (
	errDatabaseURLRequired    = errors.New("DATABASE_URL cannot be empty")
	errMigrationTableRequired = errors.New("MIGRATION_TABLE cannot be empty")
	errMigrationsPathMissing  = errors.New("migrations directory does not exist")
)

// Config holds the migrator settings.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationsPath overrides the embedded migrations with a directory on disk. Empty uses
	// the migrations compiled into the binary.
	MigrationsPath string

	// MigrationTable is the golang-migrate version table.
	MigrationTable string
}

// LoadConfig reads DATABASE_URL, MIGRATIONS_PATH and MIGRATION_TABLE.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationsPath: config.GetEnvStr("MIGRATIONS_PATH", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks required settings and resolves MigrationsPath to an absolute path.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	if c.MigrationTable == "" {
		return errMigrationTableRequired
	}

	if c.MigrationsPath == "" {
		return nil
	}

	absPath, err := filepath.Abs(c.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", errMigrationsPathMissing, absPath)
	}

	c.MigrationsPath = absPath

	return nil
}

// String is safe for logging: the database password is masked.
func (c *Config) String() string {
	source := c.MigrationsPath
	if source == "" {
		source = "embedded"
	}

	return fmt.Sprintf("Config{DatabaseURL: %s, Migrations: %s, MigrationTable: %s}",
		storage.NewConfig(c.DatabaseURL).MaskDatabaseURL(), source, c.MigrationTable)
}
