package testutil

import (
	"database/sql"

	"github.com/wesm/leasevault/internal/store"
)

// PropertyBuilder provides a fluent API for constructing store.Property in tests.
type PropertyBuilder struct {
	p store.Property
}

// NewProperty creates a builder with sensible defaults.
func NewProperty(id, landlordID string) *PropertyBuilder {
	return &PropertyBuilder{
		p: store.Property{
			ID:         id,
			LandlordID: landlordID,
			FlatNum:    "1",
			Street:     "High Street",
			PostCode:   "AB1 2CD",
			City:       "London",
		},
	}
}

func (b *PropertyBuilder) WithFlat(n string) *PropertyBuilder {
	b.p.FlatNum = n
	return b
}

func (b *PropertyBuilder) WithStreet(s string) *PropertyBuilder {
	b.p.Street = s
	return b
}

func (b *PropertyBuilder) WithCity(c string) *PropertyBuilder {
	b.p.City = c
	return b
}

func (b *PropertyBuilder) WithUnits(n int64) *PropertyBuilder {
	b.p.UnitsInBuilding = sql.NullInt64{Int64: n, Valid: true}
	return b
}

func (b *PropertyBuilder) Build() store.Property {
	return b.p
}
