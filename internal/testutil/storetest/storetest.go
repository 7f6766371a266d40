// Package storetest provides a Fixture and helpers for tests that
// exercise the Store layer through its public API.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/leasevault/internal/store"
	"github.com/wesm/leasevault/internal/testutil"
)

// Fixture holds common test state for store-level tests.
type Fixture struct {
	T        *testing.T
	Ctx      context.Context
	Store    *store.Store
	Landlord string

	propCounter atomic.Int64
}

// New creates a Fixture with a fresh test database and one landlord ("L1").
func New(t *testing.T) *Fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	f := &Fixture{T: t, Ctx: context.Background(), Store: st, Landlord: "L1"}
	f.AddLandlord(f.Landlord)
	return f
}

// AddLandlord inserts a landlord.
func (f *Fixture) AddLandlord(id string) {
	f.T.Helper()
	_, err := f.Store.AddLandlord(f.Ctx, id)
	testutil.MustNoErr(f.T, err, "AddLandlord "+id)
}

// AddProperty inserts p.
func (f *Fixture) AddProperty(p store.Property) {
	f.T.Helper()
	testutil.MustNoErr(f.T, f.Store.AddProperty(f.Ctx, p), "AddProperty "+p.ID)
}

// NewProperty inserts a property owned by the fixture landlord with a
// generated id ("P1", "P2", ...) and returns the id.
func (f *Fixture) NewProperty() string {
	f.T.Helper()
	id := fmt.Sprintf("P%d", f.propCounter.Add(1))
	f.AddProperty(testutil.NewProperty(id, f.Landlord).Build())
	return id
}

// SetTenant upserts the tenant of propertyID and returns the write kind.
func (f *Fixture) SetTenant(propertyID, first, last, email string) store.WriteKind {
	f.T.Helper()
	kind, err := f.Store.UpsertTenant(f.Ctx, store.TenantInput{
		PropertyID: propertyID,
		FirstName:  first,
		LastName:   last,
		Email:      email,
	})
	testutil.MustNoErr(f.T, err, "UpsertTenant "+propertyID)
	return kind
}

// AddDocument records a document sent to recipient at sent.
func (f *Fixture) AddDocument(recipient, subject string, sent time.Time, attachments ...string) {
	f.T.Helper()
	_, err := f.Store.AddDocument(f.Ctx, recipient, store.NewDocument{
		Subject:     subject,
		DateSent:    sent,
		Attachments: attachments,
	})
	testutil.MustNoErr(f.T, err, "AddDocument "+subject)
}

// --- Assertion helpers ---

// AssertCount asserts the number of rows in table.
func (f *Fixture) AssertCount(table string, want int) {
	f.T.Helper()
	var count int
	err := f.Store.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
	testutil.MustNoErr(f.T, err, "count "+table)
	if count != want {
		f.T.Errorf("%s count = %d, want %d", table, count, want)
	}
}

// AssertDocumentCount asserts the number of cached documents for recipient.
func (f *Fixture) AssertDocumentCount(recipient string, want int) {
	f.T.Helper()
	var count int
	err := f.Store.DB().QueryRow(
		f.Store.Rebind("SELECT COUNT(*) FROM documents WHERE recipient = ?"), recipient,
	).Scan(&count)
	testutil.MustNoErr(f.T, err, "count documents")
	if count != want {
		f.T.Errorf("documents for %s = %d, want %d", recipient, count, want)
	}
}
