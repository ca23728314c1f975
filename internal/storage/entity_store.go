package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/propsync-io/propsync/internal/config"
	"github.com/propsync-io/propsync/internal/ingestion"
)

var (
	// ErrEntityStoreFailed is returned when a canonical upsert fails.
	ErrEntityStoreFailed = errors.New("entity storage failed")

	// ErrUnsupportedEntity is returned for an entity type with no table.
	ErrUnsupportedEntity = errors.New("unsupported entity type")

	_ ingestion.EntityStore = (*EntityStore)(nil)
)

// entityTable describes how a resource type is keyed in its canonical table.
type entityTable struct {
	name string
	// keyExpr is compared against external ids; bill details are keyed on txn_id.
	keyExpr string
}

var entityTables = map[ingestion.ResourceType]entityTable{
	ingestion.ResourceProperties:         {name: "properties", keyExpr: "external_id"},
	ingestion.ResourceUnits:              {name: "units", keyExpr: "external_id"},
	ingestion.ResourceVendors:            {name: "vendors", keyExpr: "external_id"},
	ingestion.ResourcePeople:             {name: "people", keyExpr: "external_id"},
	ingestion.ResourceLeases:             {name: "leases", keyExpr: "external_id"},
	ingestion.ResourceLedgerTransactions: {name: "ledger_transactions", keyExpr: "external_id"},
	ingestion.ResourceWorkOrders:         {name: "work_orders", keyExpr: "external_id"},
	ingestion.ResourceBillDetails:        {name: "bill_details", keyExpr: "txn_id::text"},
}

// EntityStore upserts canonical entities and resolves external ids.
//
// Every upsert is a single INSERT ... ON CONFLICT statement, so concurrent writers of the
// same key converge without explicit locking. The RETURNING clause reports whether the
// row was inserted (xmax = 0) or updated.
type EntityStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEntityStore creates a PostgreSQL-backed entity store.
func NewEntityStore(conn *Connection) (*EntityStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EntityStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// LookupIDs bulk-resolves external ids of one resource type in a single query.
// Ids that do not exist are absent from the result.
func (s *EntityStore) LookupIDs(
	ctx context.Context,
	resource ingestion.ResourceType,
	externalIDs []string,
) (map[string]int64, error) {
	table, ok := entityTables[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, resource)
	}

	result := make(map[string]int64, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	//nolint:gosec // table and key come from the fixed entityTables map
	query := fmt.Sprintf(`SELECT %s, id FROM %s WHERE %s = ANY($1)`, table.keyExpr, table.name, table.keyExpr)

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to lookup %s ids: %w", resource, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			key string
			id  int64
		)

		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", resource, err)
		}

		result[key] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s ids: %w", resource, err)
	}

	return result, nil
}

// LookupID resolves a single external id.
func (s *EntityStore) LookupID(
	ctx context.Context,
	resource ingestion.ResourceType,
	externalID string,
) (int64, bool, error) {
	table, ok := entityTables[resource]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedEntity, resource)
	}

	//nolint:gosec // table and key come from the fixed entityTables map
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1`, table.name, table.keyExpr)

	var id int64

	err := s.conn.QueryRowContext(ctx, query, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to lookup %s %s: %w", resource, externalID, err)
	}

	return id, true, nil
}

// Upsert writes the entity keyed by its external id and stamps last_sync_run_id.
func (s *EntityStore) Upsert(ctx context.Context, runID uuid.UUID, entity ingestion.Entity) (int64, bool, error) {
	if entity == nil {
		return 0, false, fmt.Errorf("%w: entity is nil", ErrEntityStoreFailed)
	}

	query, args, err := upsertStatement(runID, entity)
	if err != nil {
		return 0, false, err
	}

	var (
		id       int64
		inserted bool
	)

	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&id, &inserted); err != nil {
		return 0, false, fmt.Errorf("%w: %s %s: %w", ErrEntityStoreFailed, entity.Resource(), entity.Key(), err)
	}

	return id, inserted, nil
}

//nolint:funlen // one statement per canonical table
func upsertStatement(runID uuid.UUID, entity ingestion.Entity) (string, []any, error) {
	const returning = ` RETURNING id, (xmax = 0) AS inserted`

	switch e := entity.(type) {
	case *ingestion.Property:
		return `
			INSERT INTO properties (external_id, name, property_type, address, city, state, postal_code,
			                        unit_count, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id) DO UPDATE SET
				name = EXCLUDED.name,
				property_type = EXCLUDED.property_type,
				address = EXCLUDED.address,
				city = EXCLUDED.city,
				state = EXCLUDED.state,
				postal_code = EXCLUDED.postal_code,
				unit_count = EXCLUDED.unit_count,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.Name, e.Type, e.Address, e.City, e.State, e.PostalCode, e.UnitCount, runID}, nil

	case *ingestion.Unit:
		// A not_ready flag from the directory always wins; otherwise the occupancy derived
		// from leases is kept.
		return `
			INSERT INTO units (external_id, property_id, name, status, bedrooms, bathrooms, square_feet,
			                   market_rent, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id) DO UPDATE SET
				property_id = EXCLUDED.property_id,
				name = EXCLUDED.name,
				status = CASE
					WHEN EXCLUDED.status = 'not_ready' THEN 'not_ready'
					WHEN units.status = 'not_ready' THEN EXCLUDED.status
					ELSE units.status
				END,
				bedrooms = EXCLUDED.bedrooms,
				bathrooms = EXCLUDED.bathrooms,
				square_feet = EXCLUDED.square_feet,
				market_rent = EXCLUDED.market_rent,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.PropertyID, e.Name, unitStatus(e.Status), e.Bedrooms, e.Bathrooms,
				e.SquareFeet, e.MarketRent, runID}, nil

	case *ingestion.Person:
		return `
			INSERT INTO people (external_id, first_name, last_name, email, phone, status, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (external_id) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				email = EXCLUDED.email,
				phone = EXCLUDED.phone,
				status = EXCLUDED.status,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.FirstName, e.LastName, e.Email, e.Phone, e.Status, runID}, nil

	case *ingestion.Vendor:
		return `
			INSERT INTO vendors (external_id, name, trade, email, phone, is_1099, do_not_use, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (external_id) DO UPDATE SET
				name = EXCLUDED.name,
				trade = EXCLUDED.trade,
				email = EXCLUDED.email,
				phone = EXCLUDED.phone,
				is_1099 = EXCLUDED.is_1099,
				do_not_use = EXCLUDED.do_not_use,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.Name, e.Trade, e.Email, e.Phone, e.Is1099, e.DoNotUse, runID}, nil

	case *ingestion.Lease:
		return `
			INSERT INTO leases (external_id, unit_id, person_id, status, start_date, end_date, rent, deposit,
			                    last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id) DO UPDATE SET
				unit_id = EXCLUDED.unit_id,
				person_id = EXCLUDED.person_id,
				status = EXCLUDED.status,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date,
				rent = EXCLUDED.rent,
				deposit = EXCLUDED.deposit,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.UnitID, e.PersonID, e.Status, e.StartDate, e.EndDate, e.Rent, e.Deposit, runID}, nil

	case *ingestion.LedgerTransaction:
		return `
			INSERT INTO ledger_transactions (external_id, property_id, unit_id, posted_on, account_number,
			                                 account_name, description, debit, credit, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (external_id) DO UPDATE SET
				property_id = EXCLUDED.property_id,
				unit_id = EXCLUDED.unit_id,
				posted_on = EXCLUDED.posted_on,
				account_number = EXCLUDED.account_number,
				account_name = EXCLUDED.account_name,
				description = EXCLUDED.description,
				debit = EXCLUDED.debit,
				credit = EXCLUDED.credit,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.PropertyID, e.UnitID, e.PostedOn, e.AccountNumber, e.AccountName,
				e.Description, e.Debit, e.Credit, runID}, nil

	case *ingestion.WorkOrder:
		return `
			INSERT INTO work_orders (external_id, property_id, unit_id, vendor_id, status, priority, category,
			                         description, created_on, completed_on, amount, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (external_id) DO UPDATE SET
				property_id = EXCLUDED.property_id,
				unit_id = EXCLUDED.unit_id,
				vendor_id = EXCLUDED.vendor_id,
				status = EXCLUDED.status,
				priority = EXCLUDED.priority,
				category = EXCLUDED.category,
				description = EXCLUDED.description,
				created_on = EXCLUDED.created_on,
				completed_on = EXCLUDED.completed_on,
				amount = EXCLUDED.amount,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.ExternalID, e.PropertyID, e.UnitID, e.VendorID, e.Status, e.Priority, e.Category,
				e.Description, e.CreatedOn, e.CompletedOn, e.Amount, runID}, nil

	case *ingestion.BillDetail:
		if e.TxnID <= 0 {
			return "", nil, fmt.Errorf("%w: bill detail txn_id must be positive, got %d", ErrEntityStoreFailed, e.TxnID)
		}

		return `
			INSERT INTO bill_details (txn_id, external_id, property_id, unit_id, vendor_name, account_number,
			                          account_name, description, bill_date, due_date, amount, paid, last_sync_run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (txn_id) DO UPDATE SET
				external_id = EXCLUDED.external_id,
				property_id = EXCLUDED.property_id,
				unit_id = EXCLUDED.unit_id,
				vendor_name = EXCLUDED.vendor_name,
				account_number = EXCLUDED.account_number,
				account_name = EXCLUDED.account_name,
				description = EXCLUDED.description,
				bill_date = EXCLUDED.bill_date,
				due_date = EXCLUDED.due_date,
				amount = EXCLUDED.amount,
				paid = EXCLUDED.paid,
				last_sync_run_id = EXCLUDED.last_sync_run_id,
				updated_at = NOW()` + returning,
			[]any{e.TxnID, e.ExternalID, e.PropertyID, e.UnitID, e.VendorName, e.AccountNumber, e.AccountName,
				e.Description, e.BillDate, e.DueDate, e.Amount, e.Paid, runID}, nil

	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedEntity, entity)
	}
}

func unitStatus(s ingestion.UnitStatus) string {
	if s == "" {
		return string(ingestion.UnitVacant)
	}

	return string(s)
}

// RecomputeUnitOccupancy sets every unit that is not flagged not_ready to occupied when a
// lease covers asOf, and to vacant otherwise. Returns the number of units whose status
// changed.
func (s *EntityStore) RecomputeUnitOccupancy(ctx context.Context, asOf time.Time) (int64, error) {
	query := `
		UPDATE units u
		SET status = derived.status,
		    updated_at = NOW()
		FROM (
			SELECT un.id,
			       CASE WHEN EXISTS (
			           SELECT 1 FROM leases l
			           WHERE l.unit_id = un.id
			             AND l.start_date IS NOT NULL
			             AND l.start_date <= $1::date
			             AND (l.end_date IS NULL OR l.end_date >= $1::date)
			       ) THEN 'occupied' ELSE 'vacant' END AS status
			FROM units un
			WHERE un.status <> 'not_ready'
		) AS derived
		WHERE u.id = derived.id
		  AND u.status IS DISTINCT FROM derived.status
	`

	result, err := s.conn.ExecContext(ctx, query, asOf.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to recompute unit occupancy: %w", err)
	}

	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to recompute unit occupancy: %w", err)
	}

	s.logger.Info("Recomputed unit occupancy",
		slog.String("as_of", asOf.Format(dateLayout)),
		slog.Int64("units_changed", changed))

	return changed, nil
}
