package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner applies schema migrations.
	MigrationRunner interface {
		// Up applies all pending migrations.
		Up() error

		// Down rolls back the last applied migration.
		Down() error

		// Status prints the current version and the pending migrations.
		Status() error

		// Version prints the current version.
		Version() error

		// Drop drops every table in the database.
		Drop() error

		Close() error
	}

	migrationRunner struct {
		migrate    *migrate.Migrate
		db         *sql.DB
		migrations []migrationInfo
		out        io.Writer
		logger     *slog.Logger
	}

	// migrateLogger forwards golang-migrate output to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var (
	_ MigrationRunner = (*migrationRunner)(nil)
	_ migrate.Logger  = (*migrateLogger)(nil)
)

// NewMigrationRunner validates the migration set, connects to the database and prepares a
// golang-migrate instance. Status output goes to out.
func NewMigrationRunner(cfg *Config, out io.Writer, logger *slog.Logger) (MigrationRunner, error) {
	logger.Info("Initializing migration runner", slog.String("config", cfg.String()))

	fsys := migrationSource(cfg)

	list, err := loadMigrations(fsys)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: cfg.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(fsys, ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	logger.Info("Migration runner initialized", slog.Int("migrations", len(list)))

	return &migrationRunner{
		migrate:    m,
		db:         db,
		migrations: list,
		out:        out,
		logger:     logger,
	}, nil
}

func (r *migrationRunner) Up() error {
	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		r.logger.Info("No new migrations to apply")
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	default:
		r.logger.Info("All migrations applied")
	}

	return nil
}

func (r *migrationRunner) Down() error {
	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange), isNoMigrationApplied(err):
		r.logger.Info("No migrations to roll back")
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	default:
		r.logger.Info("Last migration rolled back")
	}

	return nil
}

func (r *migrationRunner) Status() error {
	current, dirty, err := r.version()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty (needs manual intervention)"
	}

	if current == 0 {
		_, _ = fmt.Fprintln(r.out, "Migration Status: no migrations applied")
	} else {
		_, _ = fmt.Fprintf(r.out, "Migration Status: version %d (%s)\n", current, state)
	}

	pending := pendingMigrations(r.migrations, current)
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(r.out, "Pending: none")

		return nil
	}

	_, _ = fmt.Fprintf(r.out, "Pending: %d\n", len(pending))

	for _, m := range pending {
		_, _ = fmt.Fprintf(r.out, "  %03d_%s\n", m.Sequence, m.Name)
	}

	return nil
}

func (r *migrationRunner) Version() error {
	current, dirty, err := r.version()
	if err != nil {
		return err
	}

	if current == 0 {
		_, _ = fmt.Fprintln(r.out, "Current Version: no migrations applied")

		return nil
	}

	note := ""
	if dirty {
		note = " (dirty)"
	}

	_, _ = fmt.Fprintf(r.out, "Current Version: %d%s\n", current, note)

	return nil
}

func (r *migrationRunner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	r.logger.Info("All tables dropped")

	return nil
}

// Close releases the migrate instance and the database connection.
func (r *migrationRunner) Close() error {
	var errs []error

	sourceErr, dbErr := r.migrate.Close()
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
	}

	if dbErr != nil {
		errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
	}

	if err := r.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, fmt.Errorf("database connection close error: %w", err))
	}

	return errors.Join(errs...)
}

// version returns 0 when nothing has been applied.
func (r *migrationRunner) version() (uint, bool, error) {
	current, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return current, dirty, nil
}

func pendingMigrations(list []migrationInfo, current uint) []migrationInfo {
	var pending []migrationInfo

	for _, m := range list {
		if uint(m.Sequence) > current { //nolint:gosec // sequences are three digits
			pending = append(pending, m)
		}
	}

	return pending
}

// isNoMigrationApplied reports the error Steps(-1) returns on an empty database.
func isNoMigrationApplied(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
