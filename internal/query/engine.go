// Package query computes read-only aggregates over the record repository.
package query

import (
	"context"
	"errors"
	"fmt"
)

// ErrZeroCapacity reports a building whose declared capacity is zero or
// unknown, for which no occupancy percentage exists.
var ErrZeroCapacity = errors.New("building capacity is zero or unknown")

// Engine provides aggregate statistics for leasevault data.
type Engine interface {
	// PropertiesByLandlord counts properties per landlord, including
	// landlords with none, ordered by landlord id.
	PropertiesByLandlord(ctx context.Context) ([]LandlordCount, error)

	// OccupancyByBuilding groups properties by street. Capacity is the
	// smallest units-in-building value reported within the group.
	OccupancyByBuilding(ctx context.Context) ([]BuildingOccupancy, error)

	// Stats returns overall database counts.
	Stats(ctx context.Context) (*Stats, error)
}

// LandlordCount is the number of properties a landlord owns.
type LandlordCount struct {
	LandlordID string `json:"landlord_id"`
	Properties int64  `json:"properties"`
}

// BuildingOccupancy is the occupancy of one building (street).
type BuildingOccupancy struct {
	Street     string  `json:"street"`
	Properties int64   `json:"properties"`
	Occupied   int64   `json:"occupied"`
	Capacity   int64   `json:"capacity"`
	Percentage Percent `json:"percentage"`
}

// Stats provides overall database counts.
type Stats struct {
	Landlords               int64 `json:"landlords"`
	Properties              int64 `json:"properties"`
	Tenants                 int64 `json:"tenants"`
	VacantProperties        int64 `json:"vacant_properties"`
	Documents               int64 `json:"documents"`
	DocumentsWithAttachment int64 `json:"documents_with_attachments"`
}

// Percent is a percentage in hundredths: 7500 is 75.00%.
type Percent int64

// String formats p with exactly two decimal places.
func (p Percent) String() string {
	sign := ""
	if p < 0 {
		sign, p = "-", -p
	}
	return fmt.Sprintf("%s%d.%02d", sign, p/100, p%100)
}

// Float returns p as a float64 for display arithmetic.
func (p Percent) Float() float64 {
	return float64(p) / 100
}

// MarshalJSON encodes p as a number with two decimal places.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// Occupancy returns 100 × occupied / capacity rounded half-up to two
// decimal places. The arithmetic is done on integers so the result is
// identical on every platform.
func Occupancy(occupied, capacity int64) (Percent, error) {
	if capacity <= 0 {
		return 0, ErrZeroCapacity
	}
	if occupied < 0 {
		return 0, fmt.Errorf("negative occupied count %d", occupied)
	}
	scaled := occupied * 10000
	q, r := scaled/capacity, scaled%capacity
	if 2*r >= capacity {
		q++
	}
	return Percent(q), nil
}
