package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestMigrationRunnerIntegration applies the embedded migrations to a real database and
// walks them down and back up.
func TestMigrationRunnerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("propsync_migrator"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := &Config{DatabaseURL: connStr, MigrationTable: defaultMigrationTable}
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer

	runner, err := NewMigrationRunner(cfg, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { _ = runner.Close() })

	list, err := loadMigrations(migrationSource(cfg))
	require.NoError(t, err)

	latest := len(list)

	require.NoError(t, runner.Down(), "rolling back an empty database is a no-op")

	require.NoError(t, runner.Status())
	assert.Contains(t, out.String(), "no migrations applied")
	assert.Contains(t, out.String(), "001_connections_and_users")

	require.NoError(t, runner.Up())
	require.NoError(t, runner.Up(), "second up has nothing to apply")

	out.Reset()
	require.NoError(t, runner.Version())
	assert.Equal(t, "Current Version: "+itoa(latest)+"\n", out.String())

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	assert.True(t, tableExists(ctx, t, db, "sync_runs"))

	require.NoError(t, runner.Down())

	out.Reset()
	require.NoError(t, runner.Status())
	assert.Contains(t, out.String(), "version "+itoa(latest-1)+" (clean)")
	assert.Contains(t, out.String(), "Pending: 1")

	require.NoError(t, runner.Up())
	require.NoError(t, runner.Drop())
	assert.False(t, tableExists(ctx, t, db, "sync_runs"))
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, table string) bool {
	t.Helper()

	var exists bool

	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		table,
	).Scan(&exists)
	require.NoError(t, err)

	return exists
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
