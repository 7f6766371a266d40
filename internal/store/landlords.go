package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AddLandlord inserts a landlord. Adding an identifier that already exists is
// a successful no-op so repeated imports of the same file converge; created
// reports whether a new row was written.
func (s *Store) AddLandlord(ctx context.Context, id string) (created bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("add landlord: %w: landlord id is required", ErrConstraintViolation)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.Rebind(`
			INSERT INTO landlords (id) VALUES (?)
			ON CONFLICT (id) DO NOTHING
		`), id)
		if err != nil {
			return Classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add landlord %q: %w", id, err)
	}
	return created, nil
}

// ListLandlords returns all landlord identifiers in ascending order.
func (s *Store) ListLandlords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM landlords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list landlords: %w", Classify(err))
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan landlord: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list landlords: %w", Classify(err))
	}
	return ids, nil
}

// DeleteLandlord removes a landlord together with its properties, their
// tenants and the tenants' documents. Deleting an unknown landlord is a
// no-op; deleted reports whether a row was removed.
func (s *Store) DeleteLandlord(ctx context.Context, id string) (deleted bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		propertyIDs, err := s.landlordPropertyIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, pid := range propertyIDs {
			if _, err := s.deletePropertyTx(ctx, tx, pid); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM landlords WHERE id = ?`), id)
		if err != nil {
			return Classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete landlord %q: %w", id, err)
	}
	return deleted, nil
}

func (s *Store) landlordPropertyIDs(ctx context.Context, tx *sql.Tx, landlordID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, s.Rebind(`SELECT id FROM properties WHERE landlord_id = ? ORDER BY id`), landlordID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, Classify(rows.Err())
}
