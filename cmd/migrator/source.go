package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/propsync-io/propsync/migrations"
)

var (
	errNoMigrations        = errors.New("no migration files found")
	errInvalidMigration    = errors.New("invalid migration filename")
	errUnpairedMigration   = errors.New("migration is missing its up or down file")
	errMigrationSequence   = errors.New("migration sequence has a gap")
	errEmptyMigrationFile  = errors.New("migration file is empty")
	errDuplicateMigrations = errors.New("duplicate migration sequence")
)

// migrationFilename matches 001_name.up.sql and 001_name.down.sql.
var migrationFilename = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.(up|down)\.sql$`)

// migrationInfo is one up/down pair.
type migrationInfo struct {
	Sequence int
	Name     string
	hasUp    bool
	hasDown  bool
}

// migrationSource returns the migrations the runner applies: the directory at
// MigrationsPath when set, the embedded set otherwise.
func migrationSource(cfg *Config) fs.FS {
	if cfg.MigrationsPath != "" {
		return os.DirFS(cfg.MigrationsPath)
	}

	return migrations.FS
}

// loadMigrations reads and checks the migration set: every .sql file must follow the naming
// scheme and be non-empty, each sequence needs both directions under one name, and
// sequences run from 1 without gaps.
func loadMigrations(fsys fs.FS) ([]migrationInfo, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	bySequence := make(map[int]*migrationInfo)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		match := migrationFilename.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("%w: %s (want NNN_name.up.sql or NNN_name.down.sql)",
				errInvalidMigration, entry.Name())
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		if strings.TrimSpace(string(content)) == "" {
			return nil, fmt.Errorf("%w: %s", errEmptyMigrationFile, entry.Name())
		}

		seq, _ := strconv.Atoi(match[1])

		info, ok := bySequence[seq]
		if !ok {
			info = &migrationInfo{Sequence: seq, Name: match[2]}
			bySequence[seq] = info
		} else if info.Name != match[2] {
			return nil, fmt.Errorf("%w: %03d is used by %q and %q", errDuplicateMigrations, seq, info.Name, match[2])
		}

		if match[3] == "up" {
			info.hasUp = true
		} else {
			info.hasDown = true
		}
	}

	if len(bySequence) == 0 {
		return nil, errNoMigrations
	}

	list := make([]migrationInfo, 0, len(bySequence))
	for _, info := range bySequence {
		list = append(list, *info)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })

	for i, info := range list {
		if !info.hasUp || !info.hasDown {
			return nil, fmt.Errorf("%w: %03d_%s", errUnpairedMigration, info.Sequence, info.Name)
		}

		if info.Sequence != i+1 {
			return nil, fmt.Errorf("%w: expected %03d, found %03d", errMigrationSequence, i+1, info.Sequence)
		}
	}

	return list, nil
}
