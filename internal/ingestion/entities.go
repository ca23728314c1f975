package ingestion

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	// UnitStatus is the canonical occupancy state of a unit.
	UnitStatus string

	// Entity is a canonical row keyed by an external id.
	Entity interface {
		Resource() ResourceType
		Key() string
	}

	// Property is a managed property.
	Property struct {
		ExternalID string
		Name       string
		Type       string
		Address    string
		City       string
		State      string
		PostalCode string
		UnitCount  *int
	}

	// Unit belongs to exactly one property.
	Unit struct {
		ExternalID string
		PropertyID int64
		Name       string
		Status     UnitStatus
		Bedrooms   *int
		Bathrooms  decimal.NullDecimal
		SquareFeet *int
		MarketRent decimal.NullDecimal
	}

	// Person is a tenant or occupant.
	Person struct {
		ExternalID string
		FirstName  string
		LastName   string
		Email      string
		Phone      string
		Status     string
	}

	// Vendor is a service provider referenced by work orders.
	Vendor struct {
		ExternalID string
		Name       string
		Trade      string
		Email      string
		Phone      string
		Is1099     *bool
		DoNotUse   *bool
	}

	// Lease is derived from a rent roll row.
	Lease struct {
		ExternalID string
		UnitID     int64
		PersonID   *int64
		Status     string
		StartDate  *time.Time
		EndDate    *time.Time
		Rent       decimal.NullDecimal
		Deposit    decimal.NullDecimal
	}

	// LedgerTransaction is a general ledger line.
	LedgerTransaction struct {
		ExternalID    string
		PropertyID    *int64
		UnitID        *int64
		PostedOn      *time.Time
		AccountNumber string
		AccountName   string
		Description   string
		Debit         decimal.NullDecimal
		Credit        decimal.NullDecimal
	}

	// WorkOrder is a maintenance request.
	WorkOrder struct {
		ExternalID  string
		PropertyID  int64
		UnitID      *int64
		VendorID    *int64
		Status      string
		Priority    string
		Category    string
		Description string
		CreatedOn   *time.Time
		CompletedOn *time.Time
		Amount      decimal.NullDecimal
	}

	// BillDetail is a payable line keyed by its numeric transaction id.
	BillDetail struct {
		TxnID         int64
		ExternalID    string
		PropertyID    int64
		UnitID        *int64
		VendorName    string
		AccountNumber string
		AccountName   string
		Description   string
		BillDate      *time.Time
		DueDate       *time.Time
		Amount        decimal.NullDecimal
		Paid          *bool
	}
)

const (
	UnitOccupied UnitStatus = "occupied"
	UnitVacant   UnitStatus = "vacant"
	UnitNotReady UnitStatus = "not_ready"
)

func (*Property) Resource() ResourceType          { return ResourceProperties }
func (*Unit) Resource() ResourceType              { return ResourceUnits }
func (*Person) Resource() ResourceType            { return ResourcePeople }
func (*Vendor) Resource() ResourceType            { return ResourceVendors }
func (*Lease) Resource() ResourceType             { return ResourceLeases }
func (*LedgerTransaction) Resource() ResourceType { return ResourceLedgerTransactions }
func (*WorkOrder) Resource() ResourceType         { return ResourceWorkOrders }
func (*BillDetail) Resource() ResourceType        { return ResourceBillDetails }

func (e *Property) Key() string          { return e.ExternalID }
func (e *Unit) Key() string              { return e.ExternalID }
func (e *Person) Key() string            { return e.ExternalID }
func (e *Vendor) Key() string            { return e.ExternalID }
func (e *Lease) Key() string             { return e.ExternalID }
func (e *LedgerTransaction) Key() string { return e.ExternalID }
func (e *WorkOrder) Key() string         { return e.ExternalID }
func (e *BillDetail) Key() string        { return e.ExternalID }
