// Package importer loads landlord, property and tenant records from
// spreadsheet exports into the record repository.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/wesm/leasevault/internal/store"
)

// Row is one flat record of an import file.
type Row struct {
	Line int // 1-based line or spreadsheet row, for error reports

	PropertyID      string
	LandlordID      string
	FlatNum         string
	Street          string
	PostCode        string
	City            string
	UnitsInBuilding sql.NullInt64

	FirstName string
	LastName  string
	Email     string
}

// HasTenant reports whether any tenant field is filled in.
func (r *Row) HasTenant() bool {
	return strings.TrimSpace(r.FirstName) != "" ||
		strings.TrimSpace(r.LastName) != "" ||
		strings.TrimSpace(r.Email) != ""
}

// Property returns the property described by the row.
func (r *Row) Property() store.Property {
	return store.Property{
		ID:              r.PropertyID,
		LandlordID:      r.LandlordID,
		FlatNum:         r.FlatNum,
		Street:          r.Street,
		PostCode:        r.PostCode,
		City:            r.City,
		UnitsInBuilding: r.UnitsInBuilding,
	}
}

// Repository is the part of the record repository an import writes to.
type Repository interface {
	AddLandlord(ctx context.Context, id string) (bool, error)
	GetRecord(ctx context.Context, propertyID string) (*store.Record, error)
	AddProperty(ctx context.Context, p store.Property) error
	UpsertTenant(ctx context.Context, in store.TenantInput) (store.WriteKind, error)
}

// Options configures Import.
type Options struct {
	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// RowError is a row that could not be imported.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Summary reports the outcome of an import.
type Summary struct {
	Rows              int
	LandlordsAdded    int
	PropertiesAdded   int
	PropertiesSkipped int // Already present, left unchanged
	TenantsInserted   int
	TenantsUpdated    int
	Errors            []RowError
	Duration          time.Duration
}

// Import writes rows to repo. A row naming an existing property under a
// different landlord is rejected before anything is written. Otherwise the
// landlord is added (a no-op when it exists), then the property unless it
// already exists, then the tenant when any tenant field is present.
//
// A row that violates a constraint or cannot be parsed is recorded in
// Summary.Errors and the import continues. Any other read error, a database
// infrastructure failure or a cancelled context stops the import; the
// summary so far is returned with the error.
func Import(ctx context.Context, repo Repository, rows iter.Seq2[Row, error], opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	summary := &Summary{}
	defer func() { summary.Duration = time.Since(start) }()

	for row, err := range rows {
		var rowErr RowError
		if errors.As(err, &rowErr) {
			summary.Rows++
			logger.Warn("skipping import row", "line", rowErr.Line, "error", rowErr.Err)
			summary.Errors = append(summary.Errors, rowErr)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("read import file: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Rows++

		if err := importRow(ctx, repo, row, summary); err != nil {
			if errors.Is(err, store.ErrInfrastructure) || ctx.Err() != nil {
				return summary, fmt.Errorf("line %d: %w", row.Line, err)
			}
			logger.Warn("skipping import row", "line", row.Line, "property", row.PropertyID, "error", err)
			summary.Errors = append(summary.Errors, RowError{Line: row.Line, Err: err})
		}
	}

	logger.Info("import complete",
		"rows", summary.Rows,
		"landlords_added", summary.LandlordsAdded,
		"properties_added", summary.PropertiesAdded,
		"properties_skipped", summary.PropertiesSkipped,
		"tenants_inserted", summary.TenantsInserted,
		"tenants_updated", summary.TenantsUpdated,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

func importRow(ctx context.Context, repo Repository, row Row, summary *Summary) error {
	landlordID := strings.TrimSpace(row.LandlordID)

	// Reject a landlord mismatch before writing anything for the row.
	existing, err := repo.GetRecord(ctx, strings.TrimSpace(row.PropertyID))
	if err != nil {
		return err
	}
	if existing != nil && existing.LandlordID != landlordID {
		return fmt.Errorf("%w: property %q belongs to landlord %q, not %q",
			store.ErrConstraintViolation, existing.ID, existing.LandlordID, landlordID)
	}

	created, err := repo.AddLandlord(ctx, row.LandlordID)
	if err != nil {
		return err
	}
	if created {
		summary.LandlordsAdded++
	}

	if existing == nil {
		if err := repo.AddProperty(ctx, row.Property()); err != nil {
			return err
		}
		summary.PropertiesAdded++
	} else {
		summary.PropertiesSkipped++
	}

	if !row.HasTenant() {
		return nil
	}
	kind, err := repo.UpsertTenant(ctx, store.TenantInput{
		PropertyID: row.PropertyID,
		FirstName:  row.FirstName,
		LastName:   row.LastName,
		Email:      row.Email,
	})
	if err != nil {
		return err
	}
	switch kind {
	case store.WriteInserted:
		summary.TenantsInserted++
	case store.WriteUpdated:
		summary.TenantsUpdated++
	}
	return nil
}
