package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wesm/leasevault/internal/store"
)

// SQLEngine implements Engine with plain SQL that runs unchanged on SQLite
// and PostgreSQL. Connection failures are tagged with
// store.ErrInfrastructure.
type SQLEngine struct {
	db *sql.DB
}

var _ Engine = (*SQLEngine)(nil)

// NewSQLEngine creates a new SQL-backed query engine.
func NewSQLEngine(db *sql.DB) *SQLEngine {
	return &SQLEngine{db: db}
}

// occupiedExpr is true for a property_tenant_view row with a tenant.
const occupiedExpr = `(TRIM(COALESCE(first_name, '')) <> '' OR TRIM(COALESCE(last_name, '')) <> '')`

// PropertiesByLandlord counts properties per landlord.
func (e *SQLEngine) PropertiesByLandlord(ctx context.Context) ([]LandlordCount, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT l.id, COUNT(p.id)
		FROM landlords l
		LEFT JOIN properties p ON p.landlord_id = l.id
		GROUP BY l.id
		ORDER BY l.id
	`)
	if err != nil {
		return nil, fmt.Errorf("properties by landlord: %w", store.Classify(err))
	}
	defer rows.Close()

	results := []LandlordCount{}
	for rows.Next() {
		var lc LandlordCount
		if err := rows.Scan(&lc.LandlordID, &lc.Properties); err != nil {
			return nil, fmt.Errorf("scan landlord count: %w", err)
		}
		results = append(results, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("properties by landlord: %w", store.Classify(err))
	}
	return results, nil
}

// OccupancyByBuilding computes occupancy per street. A building whose
// capacity is zero or not reported fails the whole call with
// ErrZeroCapacity naming the street.
func (e *SQLEngine) OccupancyByBuilding(ctx context.Context) ([]BuildingOccupancy, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT street,
			COUNT(*),
			COUNT(CASE WHEN `+occupiedExpr+` THEN 1 END),
			MIN(units_in_building)
		FROM property_tenant_view
		GROUP BY street
		ORDER BY street
	`)
	if err != nil {
		return nil, fmt.Errorf("occupancy by building: %w", store.Classify(err))
	}
	defer rows.Close()

	results := []BuildingOccupancy{}
	for rows.Next() {
		var b BuildingOccupancy
		var capacity sql.NullInt64
		if err := rows.Scan(&b.Street, &b.Properties, &b.Occupied, &capacity); err != nil {
			return nil, fmt.Errorf("scan occupancy: %w", err)
		}
		if !capacity.Valid {
			return nil, fmt.Errorf("occupancy of %q: units in building not reported: %w", b.Street, ErrZeroCapacity)
		}
		b.Capacity = capacity.Int64
		if b.Percentage, err = Occupancy(b.Occupied, b.Capacity); err != nil {
			return nil, fmt.Errorf("occupancy of %q: %w", b.Street, err)
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("occupancy by building: %w", store.Classify(err))
	}
	return results, nil
}

// Stats returns overall database counts.
func (e *SQLEngine) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		dest  *int64
		query string
	}{
		{&s.Landlords, `SELECT COUNT(*) FROM landlords`},
		{&s.Properties, `SELECT COUNT(*) FROM properties`},
		{&s.Tenants, `SELECT COUNT(*) FROM property_tenant_view WHERE ` + occupiedExpr},
		{&s.VacantProperties, `SELECT COUNT(*) FROM property_tenant_view WHERE NOT ` + occupiedExpr},
		{&s.Documents, `SELECT COUNT(*) FROM documents`},
		{&s.DocumentsWithAttachment, `SELECT COUNT(*) FROM documents WHERE attachments IS NOT NULL`},
	}
	for _, q := range queries {
		if err := e.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", store.Classify(err))
		}
	}
	return s, nil
}
