// Package main provides the propsync database migration tool.
//
// Migrations are compiled into the binary from migrations/; MIGRATIONS_PATH points the tool
// at a directory on disk instead.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/propsync-io/propsync/internal/config"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

var errUnknownCommand = errors.New("unknown command")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() { printUsage(stdout) }

	showVersion := fs.Bool("version", false, "Show version information")
	force := fs.Bool("force", false, "Skip the confirmation prompt for drop")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "%s v%s\n", name, version)

		return 0
	}

	if fs.NArg() == 0 {
		printUsage(stdout)

		return 0
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("PROPSYNC_LOG_LEVEL", slog.LevelInfo),
	}))

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))

		return 1
	}

	runner, err := NewMigrationRunner(cfg, stdout, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))

		return 1
	}

	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close migration runner", slog.String("error", err.Error()))
		}
	}()

	if err := executeCommand(fs.Arg(0), runner, stdin, stdout, *force); err != nil {
		logger.Error("Migration failed", slog.String("command", fs.Arg(0)), slog.String("error", err.Error()))

		return 1
	}

	return 0
}

// executeCommand runs one migration command. drop asks for confirmation on stdin unless
// force is set.
func executeCommand(command string, runner MigrationRunner, stdin io.Reader, stdout io.Writer, force bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !force && !confirm(stdin, stdout, "WARNING: This will drop all tables. Are you sure? (y/N): ") {
			_, _ = fmt.Fprintln(stdout, "Operation cancelled.")

			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func confirm(stdin io.Reader, stdout io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(stdout, prompt)

	answer, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%[1]s v%[2]s - database migration tool for propsync

USAGE:
    %[1]s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show the current version and pending migrations
    version Show the current migration version
    drop    Drop all tables (asks for confirmation)

OPTIONS:
    -help     Show this help message
    -version  Show version information
    -force    Do not ask before drop

ENVIRONMENT VARIABLES:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATIONS_PATH  Directory of migration files (default: embedded migrations)
    MIGRATION_TABLE  Version tracking table (default: schema_migrations)
    PROPSYNC_LOG_LEVEL  debug, info, warn or error (default: info)
`, name, version)
}
