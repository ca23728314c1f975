package appfolio

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/propsync-io/propsync/internal/ingestion"
)

// reportNames maps each resource type to its reports v2 endpoint name.
var reportNames = map[ingestion.ResourceType]string{
	ingestion.ResourceProperties:         "property_directory",
	ingestion.ResourceUnits:              "unit_directory",
	ingestion.ResourceVendors:            "vendor_directory",
	ingestion.ResourcePeople:             "tenant_directory",
	ingestion.ResourceLeases:             "rent_roll",
	ingestion.ResourceLedgerTransactions: "general_ledger",
	ingestion.ResourceWorkOrders:         "work_order",
	ingestion.ResourceBillDetails:        "bill_detail",
}

// ReportName returns the report endpoint name for a resource type.
func ReportName(rt ingestion.ResourceType) (string, error) {
	name, ok := reportNames[rt]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedResource, rt)
	}

	return name, nil
}

// RunReport fetches the first page of a named report.
func (c *Client) RunReport(ctx context.Context, report string, params Params) (*Page, error) {
	body := Params{"paginate_results": true}
	maps.Copy(body, params)

	raw, err := c.Request(ctx, http.MethodPost, "/api/v2/reports/"+report+".json", body)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", report, err)
	}

	return DecodePage(raw)
}

// Report returns the ReportFunc for a resource type.
func (c *Client) Report(rt ingestion.ResourceType) (ReportFunc, error) {
	name, err := ReportName(rt)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params Params) (*Page, error) {
		return c.RunReport(ctx, name, params)
	}, nil
}

// FetchResource fetches every record of a resource type.
func (c *Client) FetchResource(
	ctx context.Context,
	rt ingestion.ResourceType,
	params Params,
	onProgress ProgressFunc,
	maxPages int,
) ([]ingestion.Record, error) {
	report, err := c.Report(rt)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetching report",
		slog.String("resource_type", rt.String()),
		slog.String("report", reportNames[rt]))

	return c.FetchAllPages(ctx, report, params, onProgress, maxPages)
}
