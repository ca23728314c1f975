package syncer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propsync-io/propsync/internal/canonicalization"
	"github.com/propsync-io/propsync/internal/ingestion"
	"github.com/propsync-io/propsync/internal/vocabulary"
)

var (
	// ErrMissingExternalID is returned for a record without its id field.
	ErrMissingExternalID = errors.New("missing external id")

	// ErrInvalidTxnID is returned for a bill detail whose txn_id is not a positive integer.
	ErrInvalidTxnID = errors.New("invalid txn_id")
)

const dateLayout = "2006-01-02"

type (
	// reference is a foreign key carried by a report row.
	reference struct {
		resource ingestion.ResourceType
		field    string
		required bool
	}

	// refs holds resolved internal ids; an optional reference that did not resolve is nil.
	refs map[ingestion.ResourceType]*int64

	// dateFilter names the report parameters bounding a dated report.
	dateFilter struct {
		from string
		to   string
	}

	// handler is the per-resource strategy: how to find the id, what the row references,
	// how to filter the report and how to map a row onto a canonical entity.
	handler struct {
		resource ingestion.ResourceType
		idField  string
		refs     []reference

		// dates bounds dated reports; nil for directories.
		dates *dateFilter

		// asOf names a point-in-time parameter set to the run date.
		asOf string

		// externalID overrides the default id extraction.
		externalID func(rec ingestion.Record) (string, error)

		// skip reports rows that are intentionally not ingested.
		skip func(rec ingestion.Record, vocab *vocabulary.Resolver) (string, bool)

		build func(f *fields, ext string, r refs, vocab *vocabulary.Resolver) ingestion.Entity
	}
)

// handlers is the closed table of resource strategies. Every ResourceType has exactly one.
var handlers = map[ingestion.ResourceType]*handler{
	ingestion.ResourceProperties: {
		resource: ingestion.ResourceProperties,
		idField:  "property_id",
		build:    buildProperty,
	},
	ingestion.ResourceUnits: {
		resource: ingestion.ResourceUnits,
		idField:  "unit_id",
		refs:     []reference{{resource: ingestion.ResourceProperties, field: "property_id", required: true}},
		build:    buildUnit,
	},
	ingestion.ResourceVendors: {
		resource: ingestion.ResourceVendors,
		idField:  "vendor_id",
		build:    buildVendor,
	},
	ingestion.ResourcePeople: {
		resource: ingestion.ResourcePeople,
		idField:  "tenant_id",
		build:    buildPerson,
	},
	ingestion.ResourceLeases: {
		resource: ingestion.ResourceLeases,
		idField:  "occupancy_id",
		refs: []reference{
			{resource: ingestion.ResourceUnits, field: "unit_id", required: true},
			{resource: ingestion.ResourcePeople, field: "tenant_id"},
		},
		asOf:  "as_of_to",
		skip:  skipVacantRentRollRow,
		build: buildLease,
	},
	ingestion.ResourceLedgerTransactions: {
		resource: ingestion.ResourceLedgerTransactions,
		idField:  "txn_id",
		refs: []reference{
			{resource: ingestion.ResourceProperties, field: "property_id"},
			{resource: ingestion.ResourceUnits, field: "unit_id"},
		},
		dates: &dateFilter{from: "posted_on_from", to: "posted_on_to"},
		build: buildLedgerTransaction,
	},
	ingestion.ResourceWorkOrders: {
		resource: ingestion.ResourceWorkOrders,
		idField:  "work_order_id",
		refs: []reference{
			{resource: ingestion.ResourceProperties, field: "property_id", required: true},
			{resource: ingestion.ResourceUnits, field: "unit_id"},
			{resource: ingestion.ResourceVendors, field: "vendor_id"},
		},
		dates: &dateFilter{from: "created_on_from", to: "created_on_to"},
		build: buildWorkOrder,
	},
	ingestion.ResourceBillDetails: {
		resource: ingestion.ResourceBillDetails,
		idField:  "txn_id",
		refs: []reference{
			{resource: ingestion.ResourceProperties, field: "property_id", required: true},
			{resource: ingestion.ResourceUnits, field: "unit_id"},
		},
		dates:      &dateFilter{from: "occurred_on_from", to: "occurred_on_to"},
		externalID: billTxnID,
		build:      buildBillDetail,
	},
}

func handlerFor(resource ingestion.ResourceType) (*handler, error) {
	h, ok := handlers[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingestion.ErrUnknownResourceType, resource)
	}

	return h, nil
}

func (h *handler) extractID(rec ingestion.Record) (string, error) {
	if h.externalID != nil {
		return h.externalID(rec)
	}

	id, ok := rec.String(h.idField)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingExternalID, h.idField)
	}

	return id, nil
}

// billTxnID accepts only positive integers. A missing or zero txn_id is never defaulted.
func billTxnID(rec ingestion.Record) (string, error) {
	raw, ok := rec.String("txn_id")
	if !ok {
		return "", fmt.Errorf("%w: txn_id", ErrMissingExternalID)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTxnID, raw)
	}

	return strconv.FormatInt(n, 10), nil
}

// skipVacantRentRollRow drops rent roll rows that describe an empty unit rather than a
// lease.
func skipVacantRentRollRow(rec ingestion.Record, vocab *vocabulary.Resolver) (string, bool) {
	if _, ok := rec.String("occupancy_id"); ok {
		return "", false
	}

	status, _ := rec.String("status")
	if vocab.NormalizeOr(vocabulary.UnitStatus, status, "") == string(ingestion.UnitVacant) {
		return "vacant unit row", true
	}

	return "", false
}

// fields reads typed values from a record and keeps the first parse error.
type fields struct {
	rec ingestion.Record
	err error
}

func (f *fields) str(key string) string {
	s, _ := f.rec.String(key)

	return s
}

func (f *fields) text(key string) string {
	return canonicalization.NormalizeText(f.str(key))
}

func (f *fields) amount(key string) decimal.NullDecimal {
	v, err := canonicalization.ParseAmount(f.rec.Value(key))
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%s: %w", key, err)
	}

	return v
}

func (f *fields) integer(key string) *int {
	v, err := canonicalization.ParseInt(f.rec.Value(key))
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%s: %w", key, err)
	}

	return v
}

func (f *fields) date(key string) *time.Time {
	return canonicalization.ParseDate(f.rec.Value(key))
}

func (f *fields) boolean(key string) *bool {
	return canonicalization.ParseBool(f.rec.Value(key))
}

// first returns the first entry of the first non-empty field among keys. Contact fields
// may hold comma-separated lists.
func (f *fields) first(keys ...string) string {
	for _, k := range keys {
		if s := f.str(k); s != "" {
			head, _, _ := strings.Cut(s, ",")

			return strings.TrimSpace(head)
		}
	}

	return ""
}

func vocab(v *vocabulary.Resolver, table vocabulary.Table, raw string) string {
	return v.NormalizeOr(table, raw, canonicalization.NormalizeKey(raw))
}

func buildProperty(f *fields, ext string, _ refs, v *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.Property{
		ExternalID: ext,
		Name:       f.text("property_name"),
		Type:       vocab(v, vocabulary.PropertyType, f.str("property_type")),
		Address:    f.text("property_address"),
		City:       f.text("property_city"),
		State:      strings.ToUpper(f.str("property_state")),
		PostalCode: f.str("property_zip"),
		UnitCount:  f.integer("units"),
	}
}

func buildUnit(f *fields, ext string, r refs, v *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.Unit{
		ExternalID: ext,
		PropertyID: *r[ingestion.ResourceProperties],
		Name:       f.text("unit_name"),
		Status:     ingestion.UnitStatus(v.NormalizeOr(vocabulary.UnitStatus, f.str("status"), string(ingestion.UnitVacant))),
		Bedrooms:   f.integer("bedrooms"),
		Bathrooms:  f.amount("bathrooms"),
		SquareFeet: f.integer("sqft"),
		MarketRent: f.amount("market_rent"),
	}
}

func buildVendor(f *fields, ext string, _ refs, _ *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.Vendor{
		ExternalID: ext,
		Name:       f.text("company_name"),
		Trade:      f.text("vendor_trades"),
		Email:      canonicalization.NormalizeEmail(f.first("email", "emails")),
		Phone:      canonicalization.NormalizePhone(f.first("phone_numbers", "phone")),
		Is1099:     f.boolean("send_1099"),
		DoNotUse:   f.boolean("do_not_use_for_work_order"),
	}
}

func buildPerson(f *fields, ext string, _ refs, _ *vocabulary.Resolver) ingestion.Entity {
	first, last := f.text("first_name"), f.text("last_name")
	if first == "" && last == "" {
		first, last = splitName(f.text("tenant"))
	}

	return &ingestion.Person{
		ExternalID: ext,
		FirstName:  first,
		LastName:   last,
		Email:      canonicalization.NormalizeEmail(f.first("emails", "email")),
		Phone:      canonicalization.NormalizePhone(f.first("phone_numbers", "phone")),
		Status:     canonicalization.NormalizeKey(f.str("status")),
	}
}

func splitName(full string) (string, string) {
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return full, ""
	}

	return full[:i], full[i+1:]
}

func buildLease(f *fields, ext string, r refs, v *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.Lease{
		ExternalID: ext,
		UnitID:     *r[ingestion.ResourceUnits],
		PersonID:   r[ingestion.ResourcePeople],
		Status:     vocab(v, vocabulary.LeaseStatus, f.str("status")),
		StartDate:  f.date("lease_from"),
		EndDate:    f.date("lease_to"),
		Rent:       f.amount("rent"),
		Deposit:    f.amount("deposit"),
	}
}

func buildLedgerTransaction(f *fields, ext string, r refs, _ *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.LedgerTransaction{
		ExternalID:    ext,
		PropertyID:    r[ingestion.ResourceProperties],
		UnitID:        r[ingestion.ResourceUnits],
		PostedOn:      f.date("post_date"),
		AccountNumber: f.str("account_number"),
		AccountName:   f.text("account_name"),
		Description:   f.text("description"),
		Debit:         f.amount("debit"),
		Credit:        f.amount("credit"),
	}
}

func buildWorkOrder(f *fields, ext string, r refs, v *vocabulary.Resolver) ingestion.Entity {
	return &ingestion.WorkOrder{
		ExternalID:  ext,
		PropertyID:  *r[ingestion.ResourceProperties],
		UnitID:      r[ingestion.ResourceUnits],
		VendorID:    r[ingestion.ResourceVendors],
		Status:      vocab(v, vocabulary.WorkOrderStatus, f.str("status")),
		Priority:    vocab(v, vocabulary.WorkOrderPriority, f.str("priority")),
		Category:    f.text("work_order_type"),
		Description: f.text("job_description"),
		CreatedOn:   f.date("created_at"),
		CompletedOn: f.date("completed_on"),
		Amount:      f.amount("amount"),
	}
}

func buildBillDetail(f *fields, ext string, r refs, _ *vocabulary.Resolver) ingestion.Entity {
	txnID, _ := strconv.ParseInt(ext, 10, 64)

	return &ingestion.BillDetail{
		TxnID:         txnID,
		ExternalID:    ext,
		PropertyID:    *r[ingestion.ResourceProperties],
		UnitID:        r[ingestion.ResourceUnits],
		VendorName:    f.text("payee_name"),
		AccountNumber: f.str("account_number"),
		AccountName:   f.text("account_name"),
		Description:   f.text("description"),
		BillDate:      f.date("bill_date"),
		DueDate:       f.date("due_date"),
		Amount:        f.amount("amount"),
		Paid:          f.boolean("paid"),
	}
}
