package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/leasevault/internal/store"
	"github.com/wesm/leasevault/internal/testutil"
	"github.com/wesm/leasevault/internal/testutil/ptr"
	"github.com/wesm/leasevault/internal/testutil/storetest"
)

func TestStore_InitSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "sub", "vault.db"))
	testutil.MustNoErr(t, err, "Open")
	defer st.Close()

	v, err := st.SchemaVersion(ctx)
	testutil.MustNoErr(t, err, "SchemaVersion before init")
	if v != 0 {
		t.Errorf("schema version before init = %d, want 0", v)
	}

	for i := 0; i < 2; i++ {
		testutil.MustNoErr(t, st.InitSchema(ctx), "InitSchema")
	}

	v, err = st.SchemaVersion(ctx)
	testutil.MustNoErr(t, err, "SchemaVersion")
	if v != 1 {
		t.Errorf("schema version = %d, want 1", v)
	}
	if st.Dialect() != store.DialectSQLite {
		t.Errorf("Dialect() = %q, want sqlite3", st.Dialect())
	}
}

func TestStore_GetAllRecords_Empty(t *testing.T) {
	st := testutil.NewTestStore(t)

	records, err := st.GetAllRecords(context.Background())
	testutil.MustNoErr(t, err, "GetAllRecords")
	if records == nil || len(records) != 0 {
		t.Errorf("GetAllRecords() = %v, want empty non-nil slice", records)
	}
}

func TestStore_GetAllRecords_OrderedByPropertyID(t *testing.T) {
	f := storetest.New(t)
	for _, id := range []string{"P3", "P1", "P2"} {
		f.AddProperty(testutil.NewProperty(id, f.Landlord).Build())
	}
	f.SetTenant("P2", "Ann", "Lee", "ann@example.com")

	records, err := f.Store.GetAllRecords(f.Ctx)
	testutil.MustNoErr(t, err, "GetAllRecords")

	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	testutil.AssertStrings(t, ids, "P1", "P2", "P3")

	if !records[0].Vacant() || records[1].Vacant() || !records[2].Vacant() {
		t.Errorf("vacancy = %v %v %v, want true false true",
			records[0].Vacant(), records[1].Vacant(), records[2].Vacant())
	}
	if records[1].Email.String != "ann@example.com" {
		t.Errorf("P2 email = %q, want ann@example.com", records[1].Email.String)
	}
}

func TestStore_GetRecord_NotFoundIsNil(t *testing.T) {
	f := storetest.New(t)

	r, err := f.Store.GetRecord(f.Ctx, "missing")
	if err != nil {
		t.Fatalf("GetRecord(missing) error = %v, want nil", err)
	}
	if r != nil {
		t.Errorf("GetRecord(missing) = %+v, want nil", r)
	}
}

func TestStore_GetRecord(t *testing.T) {
	f := storetest.New(t)
	want := testutil.NewProperty("P1", f.Landlord).WithFlat("4B").WithStreet("Mill Lane").WithUnits(6).Build()
	f.AddProperty(want)

	r, err := f.Store.GetRecord(f.Ctx, "P1")
	testutil.MustNoErr(t, err, "GetRecord")
	if r == nil {
		t.Fatal("GetRecord(P1) = nil")
	}
	if diff := cmp.Diff(want, r.Property); diff != "" {
		t.Errorf("property mismatch (-want +got):\n%s", diff)
	}
	if !r.Vacant() {
		t.Error("new property should be vacant")
	}
}

func TestStore_UpsertTenant_InsertThenUpdate(t *testing.T) {
	f := storetest.New(t)
	f.AddProperty(testutil.NewProperty("P1", f.Landlord).Build())

	kind := f.SetTenant("P1", "Alice", "Smith", "alice@x.com")
	if kind != store.WriteInserted {
		t.Errorf("first upsert = %v, want inserted", kind)
	}

	kind = f.SetTenant("P1", "Alice", "Jones", "alice@x.com")
	if kind != store.WriteUpdated {
		t.Errorf("second upsert = %v, want updated", kind)
	}

	r, err := f.Store.GetRecord(f.Ctx, "P1")
	testutil.MustNoErr(t, err, "GetRecord")
	if r.LastName.String != "Jones" {
		t.Errorf("last name = %q, want Jones", r.LastName.String)
	}
	f.AssertCount("tenants", 1)
}

func TestStore_UpsertTenant_AlwaysInsertedWhenVacant(t *testing.T) {
	f := storetest.New(t)
	for i, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		pid := f.NewProperty()
		if kind := f.SetTenant(pid, "First", "Last", email); kind != store.WriteInserted {
			t.Errorf("property %d: kind = %v, want inserted", i, kind)
		}
		if kind := f.SetTenant(pid, "First", "Other", email); kind != store.WriteUpdated {
			t.Errorf("property %d: kind = %v, want updated", i, kind)
		}
	}
}

func TestStore_UpsertTenant_ChangesEmailAndKeepsDocuments(t *testing.T) {
	f := storetest.New(t)
	pid := f.NewProperty()
	f.SetTenant(pid, "Bob", "Brown", "bob@x.com")
	f.AddDocument("bob@x.com", "Lease", ptr.Date(2024, 1, 2))

	f.SetTenant(pid, "Bob", "Brown", "bob@new.example")

	f.AssertDocumentCount("bob@x.com", 0)
	f.AssertDocumentCount("bob@new.example", 1)
}

func TestStore_UpsertTenant_UnknownProperty(t *testing.T) {
	f := storetest.New(t)

	_, err := f.Store.UpsertTenant(f.Ctx, store.TenantInput{
		PropertyID: "nope", FirstName: "A", LastName: "B", Email: "a@b.com",
	})
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
}

func TestStore_UpsertTenant_MissingFields(t *testing.T) {
	f := storetest.New(t)
	pid := f.NewProperty()

	_, err := f.Store.UpsertTenant(f.Ctx, store.TenantInput{PropertyID: pid, FirstName: "A", Email: "a@b.com"})
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
	f.AssertCount("tenants", 0)
}

func TestStore_UpsertTenant_EmailOfAnotherTenant(t *testing.T) {
	f := storetest.New(t)
	p1, p2 := f.NewProperty(), f.NewProperty()
	f.SetTenant(p1, "Ann", "Lee", "ann@x.com")

	_, err := f.Store.UpsertTenant(f.Ctx, store.TenantInput{
		PropertyID: p2, FirstName: "Ann", LastName: "Lee", Email: "ANN@x.com",
	})
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)

	r, err := f.Store.GetRecord(f.Ctx, p2)
	testutil.MustNoErr(t, err, "GetRecord")
	if !r.Vacant() {
		t.Error("failed upsert must leave the property vacant")
	}
}

func TestStore_UpsertTenant_InconsistentState(t *testing.T) {
	f := storetest.New(t)
	pid := f.NewProperty()
	_, err := f.Store.DB().Exec(
		`INSERT INTO tenants (email, property_id, first_name, last_name) VALUES (?, ?, ?, NULL)`,
		"half@x.com", pid, "Half")
	testutil.MustNoErr(t, err, "insert corrupt tenant")

	_, err = f.Store.UpsertTenant(f.Ctx, store.TenantInput{
		PropertyID: pid, FirstName: "New", LastName: "Person", Email: "new@x.com",
	})
	if !errors.Is(err, store.ErrInconsistentState) {
		t.Fatalf("error = %v, want ErrInconsistentState", err)
	}
	if errors.Is(err, store.ErrConstraintViolation) {
		t.Error("inconsistent state must be distinct from constraint violation")
	}

	tenant, err := f.Store.GetTenant(f.Ctx, "half@x.com")
	testutil.MustNoErr(t, err, "GetTenant")
	if tenant == nil || tenant.FirstName != "Half" {
		t.Errorf("corrupt row should be untouched, got %+v", tenant)
	}
}

func TestStore_UpsertTenant_PlaceholderRowCountsAsVacant(t *testing.T) {
	f := storetest.New(t)
	pid := f.NewProperty()
	_, err := f.Store.DB().Exec(
		`INSERT INTO tenants (email, property_id, first_name, last_name) VALUES (?, ?, '', NULL)`,
		"placeholder@x.com", pid)
	testutil.MustNoErr(t, err, "insert placeholder tenant")

	if kind := f.SetTenant(pid, "Real", "Person", "real@x.com"); kind != store.WriteInserted {
		t.Errorf("kind = %v, want inserted", kind)
	}
	f.AssertCount("tenants", 1)
}

func TestStore_AddLandlord_Idempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	created, err := st.AddLandlord(ctx, "ACME")
	testutil.MustNoErr(t, err, "first AddLandlord")
	if !created {
		t.Error("first AddLandlord should create a row")
	}

	created, err = st.AddLandlord(ctx, "ACME")
	testutil.MustNoErr(t, err, "second AddLandlord")
	if created {
		t.Error("second AddLandlord should not create a row")
	}

	ids, err := st.ListLandlords(ctx)
	testutil.MustNoErr(t, err, "ListLandlords")
	testutil.AssertStrings(t, ids, "ACME")
}

func TestStore_AddLandlord_Empty(t *testing.T) {
	st := testutil.NewTestStore(t)
	_, err := st.AddLandlord(context.Background(), "  ")
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
}

func TestStore_AddProperty_Duplicate(t *testing.T) {
	f := storetest.New(t)
	f.AddProperty(testutil.NewProperty("P1", f.Landlord).Build())

	err := f.Store.AddProperty(f.Ctx, testutil.NewProperty("P1", f.Landlord).WithFlat("2").Build())
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
	f.AssertCount("properties", 1)
}

func TestStore_AddProperty_UnknownLandlord(t *testing.T) {
	f := storetest.New(t)

	err := f.Store.AddProperty(f.Ctx, testutil.NewProperty("P1", "ghost").Build())
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
	f.AssertCount("properties", 0)
}

func TestStore_AddProperty_NegativeUnits(t *testing.T) {
	f := storetest.New(t)

	err := f.Store.AddProperty(f.Ctx, testutil.NewProperty("P1", f.Landlord).WithUnits(-1).Build())
	testutil.AssertErrorIs(t, err, store.ErrConstraintViolation)
}

func TestStore_DeleteProperty_Cascades(t *testing.T) {
	f := storetest.New(t)
	p1, p2 := f.NewProperty(), f.NewProperty()
	f.SetTenant(p1, "Ann", "Lee", "ann@x.com")
	f.SetTenant(p2, "Bob", "Ray", "bob@x.com")
	f.AddDocument("ann@x.com", "Lease", ptr.Date(2024, 1, 1), "lease.pdf")
	f.AddDocument("ann@x.com", "Rent", ptr.Date(2024, 2, 1))
	f.AddDocument("bob@x.com", "Lease", ptr.Date(2024, 1, 1))

	deleted, err := f.Store.DeleteProperty(f.Ctx, p1)
	testutil.MustNoErr(t, err, "DeleteProperty")
	if !deleted {
		t.Error("DeleteProperty should report a removed row")
	}

	r, err := f.Store.GetRecord(f.Ctx, p1)
	testutil.MustNoErr(t, err, "GetRecord")
	if r != nil {
		t.Errorf("record still present: %+v", r)
	}
	tenant, err := f.Store.GetTenant(f.Ctx, "ann@x.com")
	testutil.MustNoErr(t, err, "GetTenant")
	if tenant != nil {
		t.Errorf("tenant still present: %+v", tenant)
	}
	docs, err := f.Store.ListDocuments(f.Ctx, "ann@x.com", false)
	testutil.MustNoErr(t, err, "ListDocuments")
	if len(docs) != 0 {
		t.Errorf("documents still present: %d", len(docs))
	}

	f.AssertDocumentCount("bob@x.com", 1)
	f.AssertCount("tenants", 1)
}

func TestStore_DeleteProperty_MissingIsNoop(t *testing.T) {
	f := storetest.New(t)

	deleted, err := f.Store.DeleteProperty(f.Ctx, "missing")
	testutil.MustNoErr(t, err, "DeleteProperty(missing)")
	if deleted {
		t.Error("deleting a missing property should report false")
	}
}

func TestStore_DeleteLandlord_Cascades(t *testing.T) {
	f := storetest.New(t)
	f.AddLandlord("L2")
	pid := f.NewProperty()
	f.AddProperty(testutil.NewProperty("Q1", "L2").Build())
	f.SetTenant(pid, "Ann", "Lee", "ann@x.com")
	f.AddDocument("ann@x.com", "Lease", ptr.Date(2024, 1, 1))

	deleted, err := f.Store.DeleteLandlord(f.Ctx, f.Landlord)
	testutil.MustNoErr(t, err, "DeleteLandlord")
	if !deleted {
		t.Error("DeleteLandlord should report a removed row")
	}

	f.AssertCount("landlords", 1)
	f.AssertCount("properties", 1)
	f.AssertCount("tenants", 0)
	f.AssertCount("documents", 0)
}

func TestStore_ListTenants(t *testing.T) {
	f := storetest.New(t)
	p1, p2 := f.NewProperty(), f.NewProperty()
	f.SetTenant(p2, "Bob", "Ray", "Bob@X.com")
	f.SetTenant(p1, "Ann", "Lee", "ann@x.com")

	tenants, err := f.Store.ListTenants(f.Ctx)
	testutil.MustNoErr(t, err, "ListTenants")

	want := []store.Tenant{
		{Email: "ann@x.com", FirstName: "Ann", LastName: "Lee", PropertyID: p1},
		{Email: "bob@x.com", FirstName: "Bob", LastName: "Ray", PropertyID: p2},
	}
	if diff := cmp.Diff(want, tenants); diff != "" {
		t.Errorf("tenants mismatch (-want +got):\n%s", diff)
	}
}
