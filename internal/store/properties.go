package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Property is a rentable unit owned by a landlord.
type Property struct {
	ID              string
	LandlordID      string
	FlatNum         string
	Street          string
	PostCode        string
	City            string
	UnitsInBuilding sql.NullInt64 // Declared units in the building, if known
}

// Record is one row of the property+tenant view. Tenant fields are NULL
// when the property is vacant.
type Record struct {
	Property
	FirstName sql.NullString
	LastName  sql.NullString
	Email     sql.NullString
}

// Vacant reports whether no tenant occupies the property.
func (r *Record) Vacant() bool {
	return !present(r.FirstName) && !present(r.LastName)
}

// present reports whether a nullable name field holds a value.
func present(v sql.NullString) bool {
	return v.Valid && strings.TrimSpace(v.String) != ""
}

const recordColumns = `property_id, landlord_id, flat_num, street, post_code, city,
	units_in_building, first_name, last_name, email`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.LandlordID, &r.FlatNum, &r.Street, &r.PostCode, &r.City,
		&r.UnitsInBuilding, &r.FirstName, &r.LastName, &r.Email)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAllRecords returns every property with its tenant (if any), ordered by
// property identifier. An empty database yields an empty slice.
func (s *Store) GetAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM property_tenant_view
		ORDER BY property_id`)
	if err != nil {
		return nil, fmt.Errorf("get all records: %w", Classify(err))
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all records: %w", Classify(err))
	}
	return records, nil
}

// GetRecord returns the property+tenant row for propertyID.
// Returns nil, nil if the property does not exist.
func (s *Store) GetRecord(ctx context.Context, propertyID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.Rebind(`SELECT `+recordColumns+`
		FROM property_tenant_view
		WHERE property_id = ?`), propertyID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %q: %w", propertyID, Classify(err))
	}
	return r, nil
}

// AddProperty inserts a new property. A duplicate identifier or an unknown
// landlord fails with ErrConstraintViolation.
func (s *Store) AddProperty(ctx context.Context, p Property) error {
	p.ID = strings.TrimSpace(p.ID)
	p.LandlordID = strings.TrimSpace(p.LandlordID)
	if p.ID == "" || p.LandlordID == "" {
		return fmt.Errorf("add property: %w: property id and landlord id are required", ErrConstraintViolation)
	}
	if p.UnitsInBuilding.Valid && p.UnitsInBuilding.Int64 < 0 {
		return fmt.Errorf("add property %q: %w: units in building must not be negative", p.ID, ErrConstraintViolation)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.Rebind(`SELECT 1 FROM landlords WHERE id = ?`), p.LandlordID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown landlord %q", ErrConstraintViolation, p.LandlordID)
		}
		if err != nil {
			return Classify(err)
		}

		_, err = tx.ExecContext(ctx, s.Rebind(`
			INSERT INTO properties (id, landlord_id, flat_num, street, post_code, city, units_in_building)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), p.ID, p.LandlordID, p.FlatNum, p.Street, p.PostCode, p.City, p.UnitsInBuilding)
		return Classify(err)
	})
	if err != nil {
		return fmt.Errorf("add property %q: %w", p.ID, err)
	}
	return nil
}

// DeleteProperty removes a property, its tenant and the tenant's documents.
// Deleting a property that does not exist is a successful no-op; deleted
// reports whether a row was removed.
func (s *Store) DeleteProperty(ctx context.Context, propertyID string) (deleted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		deleted, err = s.deletePropertyTx(ctx, tx, propertyID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete property %q: %w", propertyID, err)
	}
	return deleted, nil
}

// deletePropertyTx cascades explicitly so the invariant holds even on a
// connection where foreign keys are not enforced.
func (s *Store) deletePropertyTx(ctx context.Context, tx *sql.Tx, propertyID string) (bool, error) {
	if _, err := tx.ExecContext(ctx, s.Rebind(`
		DELETE FROM documents
		WHERE recipient IN (SELECT email FROM tenants WHERE property_id = ?)
	`), propertyID); err != nil {
		return false, Classify(err)
	}
	if _, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM tenants WHERE property_id = ?`), propertyID); err != nil {
		return false, Classify(err)
	}
	res, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM properties WHERE id = ?`), propertyID)
	if err != nil {
		return false, Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
