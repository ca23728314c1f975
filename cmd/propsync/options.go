package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/propsync-io/propsync/internal/ingestion"
)

const dateLayout = "2006-01-02"

var (
	errConnectionRequired = errors.New("-connection is required")
	errPartialDateRange   = errors.New("-from and -to must be given together")
)

// options is the parsed command line of one sync invocation.
type options struct {
	connectionID int64
	mode         ingestion.SyncMode
	dateRange    *ingestion.DateRange
	resources    []ingestion.ResourceType
	showVersion  bool
}

func parseOptions(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		connectionID = fs.Int64("connection", 0, "API connection id to sync")
		mode         = fs.String("mode", string(ingestion.ModeIncremental), "sync mode: full or incremental")
		from         = fs.String("from", "", "report window start (YYYY-MM-DD), full mode only")
		to           = fs.String("to", "", "report window end (YYYY-MM-DD), full mode only")
		resource     = fs.String("resource", "", "comma-separated resource types to sync (default: all)")
		showVersion  = fs.Bool("version", false, "show version information")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		connectionID: *connectionID,
		mode:         ingestion.SyncMode(strings.ToLower(*mode)),
		showVersion:  *showVersion,
	}

	if opts.showVersion {
		return opts, nil
	}

	if opts.connectionID <= 0 {
		return nil, errConnectionRequired
	}

	if !opts.mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", ingestion.ErrInvalidMode, *mode)
	}

	dateRange, err := parseDateRange(*from, *to)
	if err != nil {
		return nil, err
	}

	opts.dateRange = dateRange

	for _, raw := range strings.Split(*resource, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		rt, err := ingestion.ParseResourceType(raw)
		if err != nil {
			return nil, err
		}

		opts.resources = append(opts.resources, rt)
	}

	return opts, nil
}

func parseDateRange(from, to string) (*ingestion.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}

	if from == "" || to == "" {
		return nil, errPartialDateRange
	}

	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: -from: %w", ingestion.ErrInvalidDateRange, err)
	}

	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: -to: %w", ingestion.ErrInvalidDateRange, err)
	}

	return &ingestion.DateRange{From: start, To: end}, nil
}
