package query_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/leasevault/internal/query"
	"github.com/wesm/leasevault/internal/store"
	"github.com/wesm/leasevault/internal/testutil"
	"github.com/wesm/leasevault/internal/testutil/ptr"
	"github.com/wesm/leasevault/internal/testutil/storetest"
)

func TestOccupancy(t *testing.T) {
	tests := []struct {
		occupied, capacity int64
		want               string
	}{
		{3, 4, "75.00"},
		{0, 4, "0.00"},
		{4, 4, "100.00"},
		{2, 3, "66.67"},
		{1, 3, "33.33"},
		{1, 8, "12.50"},
		{1, 800, "0.13"}, // 0.125 rounds half up
		{1, 1600, "0.06"},
		{5, 4, "125.00"},
	}
	for _, tc := range tests {
		got, err := query.Occupancy(tc.occupied, tc.capacity)
		if err != nil {
			t.Errorf("Occupancy(%d, %d) error: %v", tc.occupied, tc.capacity, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("Occupancy(%d, %d) = %s, want %s", tc.occupied, tc.capacity, got, tc.want)
		}
	}
}

func TestOccupancy_ZeroCapacity(t *testing.T) {
	if _, err := query.Occupancy(1, 0); !errors.Is(err, query.ErrZeroCapacity) {
		t.Errorf("err = %v, want ErrZeroCapacity", err)
	}
	if _, err := query.Occupancy(0, 0); !errors.Is(err, query.ErrZeroCapacity) {
		t.Errorf("err = %v, want ErrZeroCapacity", err)
	}
}

func TestPercent_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		P query.Percent `json:"p"`
	}{P: 7500})
	testutil.MustNoErr(t, err, "Marshal")
	if string(b) != `{"p":75.00}` {
		t.Errorf("json = %s", b)
	}
	if got := query.Percent(-150).String(); got != "-1.50" {
		t.Errorf("String() = %q", got)
	}
}

func TestPropertiesByLandlord(t *testing.T) {
	f := storetest.New(t)
	f.AddLandlord("L0")
	f.AddLandlord("L2")
	f.NewProperty()
	f.NewProperty()
	f.AddProperty(testutil.NewProperty("Q1", "L2").Build())

	got, err := query.NewSQLEngine(f.Store.DB()).PropertiesByLandlord(f.Ctx)
	testutil.MustNoErr(t, err, "PropertiesByLandlord")
	want := []query.LandlordCount{
		{LandlordID: "L0", Properties: 0},
		{LandlordID: "L1", Properties: 2},
		{LandlordID: "L2", Properties: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPropertiesByLandlord_Empty(t *testing.T) {
	st := testutil.NewTestStore(t)
	got, err := query.NewSQLEngine(st.DB()).PropertiesByLandlord(t.Context())
	testutil.MustNoErr(t, err, "PropertiesByLandlord")
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestOccupancyByBuilding(t *testing.T) {
	f := storetest.New(t)
	// Mill Lane: capacity min(4, 6) = 4, three of four occupied.
	for i, units := range []int64{4, 6, 4, 4} {
		id := "M" + string(rune('1'+i))
		f.AddProperty(testutil.NewProperty(id, f.Landlord).WithStreet("Mill Lane").WithUnits(units).Build())
		if i < 3 {
			f.SetTenant(id, "T", "Enant", id+"@x.com")
		}
	}
	// Park Road: capacity 3, one occupied.
	f.AddProperty(testutil.NewProperty("R1", f.Landlord).WithStreet("Park Road").WithUnits(3).Build())
	f.SetTenant("R1", "Ann", "Lee", "ann@x.com")

	got, err := query.NewSQLEngine(f.Store.DB()).OccupancyByBuilding(f.Ctx)
	testutil.MustNoErr(t, err, "OccupancyByBuilding")
	want := []query.BuildingOccupancy{
		{Street: "Mill Lane", Properties: 4, Occupied: 3, Capacity: 4, Percentage: 7500},
		{Street: "Park Road", Properties: 1, Occupied: 1, Capacity: 3, Percentage: 3333},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestOccupancyByBuilding_ZeroCapacity(t *testing.T) {
	f := storetest.New(t)
	f.AddProperty(testutil.NewProperty("P1", f.Landlord).WithStreet("Empty Close").WithUnits(0).Build())

	_, err := query.NewSQLEngine(f.Store.DB()).OccupancyByBuilding(f.Ctx)
	if !errors.Is(err, query.ErrZeroCapacity) {
		t.Fatalf("err = %v, want ErrZeroCapacity", err)
	}
	if !strings.Contains(err.Error(), "Empty Close") {
		t.Errorf("error %q should name the street", err)
	}
}

func TestOccupancyByBuilding_UnknownCapacity(t *testing.T) {
	f := storetest.New(t)
	f.NewProperty() // no units reported

	_, err := query.NewSQLEngine(f.Store.DB()).OccupancyByBuilding(f.Ctx)
	testutil.AssertErrorIs(t, err, query.ErrZeroCapacity)
}

func TestStats(t *testing.T) {
	f := storetest.New(t)
	p1 := f.NewProperty()
	f.NewProperty()
	f.SetTenant(p1, "Ann", "Lee", "ann@x.com")
	f.AddDocument("ann@x.com", "Lease", ptr.Date(2024, 1, 1), "lease.pdf")
	f.AddDocument("ann@x.com", "Rent", ptr.Date(2024, 2, 1))

	got, err := query.NewSQLEngine(f.Store.DB()).Stats(f.Ctx)
	testutil.MustNoErr(t, err, "Stats")
	want := &query.Stats{
		Landlords:               1,
		Properties:              2,
		Tenants:                 1,
		VacantProperties:        1,
		Documents:               2,
		DocumentsWithAttachment: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLEngine_UnreachableDatabase(t *testing.T) {
	db, err := sql.Open(string(store.DialectSQLite), filepath.Join(t.TempDir(), "missing", "lease.db"))
	testutil.MustNoErr(t, err, "sql.Open")
	t.Cleanup(func() { _ = db.Close() })
	e := query.NewSQLEngine(db)

	_, err = e.PropertiesByLandlord(t.Context())
	testutil.AssertErrorIs(t, err, store.ErrInfrastructure)
	_, err = e.OccupancyByBuilding(t.Context())
	testutil.AssertErrorIs(t, err, store.ErrInfrastructure)
	_, err = e.Stats(t.Context())
	testutil.AssertErrorIs(t, err, store.ErrInfrastructure)
}
