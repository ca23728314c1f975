package appfolio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gojson "github.com/goccy/go-json"

	"github.com/propsync-io/propsync/internal/ingestion"
)

type (
	// Params are report filters.
	Params map[string]any

	// Page is one decoded report response.
	Page struct {
		Results     []ingestion.Record
		NextPageURL string
	}

	// Progress is reported after every page.
	Progress struct {
		Page    int
		Records int
		HasMore bool
	}

	// ReportFunc fetches the first page of a report.
	ReportFunc func(ctx context.Context, params Params) (*Page, error)

	// ProgressFunc receives pagination progress.
	ProgressFunc func(Progress)

	pageEnvelope struct {
		Results     []map[string]any `json:"results"`
		NextPageURL *string          `json:"next_page_url"`
	}
)

// DecodePage decodes a report body. Numbers are preserved as json.Number so large numeric
// ids keep every digit. A bare JSON array is accepted as a single page.
func DecodePage(raw json.RawMessage) (*Page, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	dec := gojson.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var env pageEnvelope

	if trimmed[0] == '[' {
		if err := dec.Decode(&env.Results); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	} else if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	page := &Page{Results: make([]ingestion.Record, 0, len(env.Results))}
	for _, r := range env.Results {
		page.Results = append(page.Results, ingestion.Record(r))
	}

	if env.NextPageURL != nil {
		page.NextPageURL = *env.NextPageURL
	}

	return page, nil
}

// FollowPage fetches the page behind an opaque next_page_url. No report parameters are
// added; the pointer already encodes them.
func (c *Client) FollowPage(ctx context.Context, nextPageURL string) (*Page, error) {
	raw, err := c.Request(ctx, http.MethodGet, nextPageURL, nil)
	if err != nil {
		return nil, err
	}

	return DecodePage(raw)
}

// FetchAllPages walks a report to exhaustion and returns every record in API order.
//
// The first page comes from report; later pages come from FollowPage until a page has no
// next_page_url or maxPages (when > 0) pages were read. onProgress, if set, is called after
// every page with the page number, the cumulative record count and whether another page
// will be fetched.
//
// A failure on page 1 is returned. A failure after at least one page returns the records
// collected so far with a warning, unless the context was cancelled.
func (c *Client) FetchAllPages(
	ctx context.Context,
	report ReportFunc,
	params Params,
	onProgress ProgressFunc,
	maxPages int,
) ([]ingestion.Record, error) {
	page, err := report(ctx, params)
	if err != nil {
		return nil, err
	}

	records := append([]ingestion.Record{}, page.Results...)
	pages := 1

	for {
		hasMore := page.NextPageURL != "" && (maxPages <= 0 || pages < maxPages)

		if onProgress != nil {
			onProgress(Progress{Page: pages, Records: len(records), HasMore: hasMore})
		}

		if !hasMore {
			if page.NextPageURL != "" {
				c.logger.Info("Stopped pagination at page limit",
					slog.Int("max_pages", maxPages),
					slog.Int("records", len(records)))
			}

			return records, nil
		}

		next, err := c.FollowPage(ctx, page.NextPageURL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return records, err
			}

			c.logger.Warn("Pagination failed, returning partial results",
				slog.Int("pages_collected", pages),
				slog.Int("records", len(records)),
				slog.String("error", err.Error()))

			return records, nil
		}

		page = next
		pages++

		records = append(records, page.Results...)
	}
}
