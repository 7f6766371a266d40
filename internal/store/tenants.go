package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// WriteKind tells a caller whether a tenant write created a new occupancy or
// changed the details of an existing one.
type WriteKind int

const (
	WriteInserted WriteKind = iota + 1
	WriteUpdated
)

func (k WriteKind) String() string {
	switch k {
	case WriteInserted:
		return "inserted"
	case WriteUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Tenant is the resident of a property.
type Tenant struct {
	Email      string
	FirstName  string
	LastName   string
	PropertyID string
}

// TenantInput carries the fields of an UpsertTenant call.
type TenantInput struct {
	PropertyID string
	FirstName  string
	LastName   string
	Email      string
}

func (in *TenantInput) normalize() {
	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

// UpsertTenant writes the tenant of a property. The current tenant name
// fields decide the kind of write:
//   - both absent (vacant property): insert, reported as WriteInserted
//   - both present: update, reported as WriteUpdated
//   - only one present: ErrInconsistentState, nothing is written
//
// An unknown property, or an email that already belongs to the tenant of
// another property, fails with ErrConstraintViolation.
func (s *Store) UpsertTenant(ctx context.Context, in TenantInput) (WriteKind, error) {
	in.normalize()
	if in.PropertyID == "" || in.FirstName == "" || in.LastName == "" || in.Email == "" {
		return 0, fmt.Errorf("upsert tenant: %w: property id, first name, last name and email are required", ErrConstraintViolation)
	}

	var kind WriteKind
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var first, last, email sql.NullString
		err := tx.QueryRowContext(ctx, s.Rebind(`
			SELECT first_name, last_name, email
			FROM property_tenant_view
			WHERE property_id = ?
		`), in.PropertyID).Scan(&first, &last, &email)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown property %q", ErrConstraintViolation, in.PropertyID)
		}
		if err != nil {
			return Classify(err)
		}

		hasFirst, hasLast := present(first), present(last)
		if hasFirst != hasLast {
			return fmt.Errorf("%w: property %q has first name %q and last name %q",
				ErrInconsistentState, in.PropertyID, first.String, last.String)
		}

		var other string
		err = tx.QueryRowContext(ctx, s.Rebind(`
			SELECT property_id FROM tenants WHERE email = ? AND property_id <> ?
		`), in.Email, in.PropertyID).Scan(&other)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s is already the tenant of property %q", ErrConstraintViolation, in.Email, other)
		case !errors.Is(err, sql.ErrNoRows):
			return Classify(err)
		}

		if hasFirst && hasLast {
			kind = WriteUpdated
			return s.updateTenantTx(ctx, tx, in)
		}

		kind = WriteInserted
		if email.Valid {
			// A tenant row with no names: the property counts as vacant, so
			// the row is filled in rather than duplicated.
			return s.updateTenantTx(ctx, tx, in)
		}
		_, err = tx.ExecContext(ctx, s.Rebind(`
			INSERT INTO tenants (email, property_id, first_name, last_name)
			VALUES (?, ?, ?, ?)
		`), in.Email, in.PropertyID, in.FirstName, in.LastName)
		return Classify(err)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert tenant for property %q: %w", in.PropertyID, err)
	}
	return kind, nil
}

func (s *Store) updateTenantTx(ctx context.Context, tx *sql.Tx, in TenantInput) error {
	_, err := tx.ExecContext(ctx, s.Rebind(`
		UPDATE tenants SET email = ?, first_name = ?, last_name = ?
		WHERE property_id = ?
	`), in.Email, in.FirstName, in.LastName, in.PropertyID)
	return Classify(err)
}

// GetTenant returns the tenant with the given email.
// Returns nil, nil if no tenant has that email.
func (s *Store) GetTenant(ctx context.Context, email string) (*Tenant, error) {
	var t Tenant
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, s.Rebind(`
		SELECT email, first_name, last_name, property_id FROM tenants WHERE email = ?
	`), strings.ToLower(strings.TrimSpace(email))).Scan(&t.Email, &first, &last, &t.PropertyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", email, Classify(err))
	}
	t.FirstName, t.LastName = first.String, last.String
	return &t, nil
}

// ListTenants returns all tenants ordered by property identifier.
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, first_name, last_name, property_id
		FROM tenants
		ORDER BY property_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", Classify(err))
	}
	defer rows.Close()

	tenants := []Tenant{}
	for rows.Next() {
		var t Tenant
		var first, last sql.NullString
		if err := rows.Scan(&t.Email, &first, &last, &t.PropertyID); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.FirstName, t.LastName = first.String, last.String
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", Classify(err))
	}
	return tenants, nil
}
