package documents_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/mail"
	"github.com/wesm/leasevault/internal/store"
	"github.com/wesm/leasevault/internal/testutil"
	"github.com/wesm/leasevault/internal/testutil/ptr"
	"github.com/wesm/leasevault/internal/testutil/storetest"
)

const (
	office = "office@lettings.example"
	ann    = "ann@x.com"
)

// stepClock returns a clock that advances one minute per reading, starting
// after now so stamps are later than anything the fixture wrote.
func stepClock() func() time.Time {
	t := time.Now().UTC()
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

type cacheFixture struct {
	*storetest.Fixture
	Source *mail.MockSource
	Cache  *documents.Cache
}

func newCacheFixture(t *testing.T) *cacheFixture {
	t.Helper()
	f := storetest.New(t)
	f.SetTenant(f.NewProperty(), "Ann", "Lee", ann)
	src := mail.NewMockSource()
	c := documents.New(f.Store, src, office,
		documents.WithLogger(slog.New(slog.DiscardHandler)),
		documents.WithClock(stepClock()))
	return &cacheFixture{Fixture: f, Source: src, Cache: c}
}

func subjects(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Subject)
	}
	return out
}

func msg(subject string, sent time.Time, attachments ...string) mail.SentMessage {
	return mail.SentMessage{Subject: subject, SentAt: sent, Attachments: attachments}
}

func TestListDocuments_CacheHitSkipsRemote(t *testing.T) {
	f := newCacheFixture(t)
	f.AddDocument(ann, "Cached", ptr.Date(2024, 1, 1))
	f.Source.SetMessages(ann, msg("Remote", ptr.Date(2024, 2, 1)))

	docs, err := f.Cache.ListDocuments(f.Ctx, ann, false)
	testutil.MustNoErr(t, err, "ListDocuments")
	testutil.AssertStrings(t, subjects(docs), "Cached")
	if n := f.Source.CallCount(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
}

func TestListDocuments_MissFetchesAndCommits(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages(ann,
		msg("Rent", ptr.Date(2024, 2, 1)),
		msg("Lease", ptr.Date(2024, 1, 1), "lease.pdf"),
	)

	docs, err := f.Cache.ListDocuments(f.Ctx, "Ann@X.com", false)
	testutil.MustNoErr(t, err, "ListDocuments")
	testutil.AssertStrings(t, subjects(docs), "Lease", "Rent")
	if docs[0].FirstName != "Ann" || docs[0].PropertyID != "P1" {
		t.Errorf("tenant fields not joined: %+v", docs[0])
	}
	if f.Source.Mailboxes[0] != office {
		t.Errorf("mailbox = %q, want %q", f.Source.Mailboxes[0], office)
	}

	// Second call is served from the cache.
	_, err = f.Cache.ListDocuments(f.Ctx, ann, false)
	testutil.MustNoErr(t, err, "ListDocuments again")
	if n := f.Source.CallCount(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
}

func TestListDocuments_AttachmentsOnly(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages(ann,
		msg("Plain", ptr.Date(2024, 1, 1)),
		msg("Invoice", ptr.Date(2024, 1, 2), "invoice.pdf"),
	)

	docs, err := f.Cache.ListDocuments(f.Ctx, ann, true)
	testutil.MustNoErr(t, err, "ListDocuments")
	testutil.AssertStrings(t, subjects(docs), "Invoice")
	f.AssertDocumentCount(ann, 2)
}

func TestListDocuments_RemoteFailureCommitsNothing(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name  string
		setup func(*mail.MockSource)
	}{
		{"immediate", func(m *mail.MockSource) {
			m.SetMessages(ann, msg("A", ptr.Date(2024, 1, 1)))
			m.Err = boom
		}},
		{"after first message", func(m *mail.MockSource) {
			m.SetMessages(ann, msg("A", ptr.Date(2024, 1, 1)), msg("B", ptr.Date(2024, 1, 2)))
			m.ErrAfter[ann] = 1
			m.RecvErr[ann] = boom
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newCacheFixture(t)
			tc.setup(f.Source)

			docs, err := f.Cache.ListDocuments(f.Ctx, ann, false)
			if !errors.Is(err, documents.ErrRemoteUnavailable) {
				t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
			}
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want it to wrap the remote cause", err)
			}
			if docs != nil {
				t.Errorf("docs = %v, want nil on failure", docs)
			}
			f.AssertDocumentCount(ann, 0)
		})
	}
}

func TestListDocuments_EmptyRemoteIsNotAnError(t *testing.T) {
	f := newCacheFixture(t)

	docs, err := f.Cache.ListDocuments(f.Ctx, ann, false)
	testutil.MustNoErr(t, err, "ListDocuments")
	if docs == nil || len(docs) != 0 {
		t.Errorf("docs = %v, want empty non-nil slice", docs)
	}
	if n := f.Source.CallCount(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
}

func TestListDocuments_UnknownRecipientSkipsRemote(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages("stranger@x.com", msg("Hello", ptr.Date(2024, 1, 1)))

	docs, err := f.Cache.ListDocuments(f.Ctx, "stranger@x.com", false)
	testutil.MustNoErr(t, err, "ListDocuments")
	if len(docs) != 0 {
		t.Errorf("docs = %v, want none", docs)
	}
	if n := f.Source.CallCount(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
}

func TestListDocuments_OfflineCache(t *testing.T) {
	f := storetest.New(t)
	f.SetTenant(f.NewProperty(), "Ann", "Lee", ann)
	c := documents.New(f.Store, nil, "", documents.WithLogger(slog.New(slog.DiscardHandler)))

	// A miss cannot be checked against the mailbox.
	docs, err := c.ListDocuments(f.Ctx, ann, false)
	testutil.AssertErrorIs(t, err, documents.ErrRemoteUnavailable)
	if docs != nil {
		t.Errorf("docs = %v, want nil on error", docs)
	}

	_, err = c.Refresh(f.Ctx, ann)
	testutil.AssertErrorIs(t, err, documents.ErrRemoteUnavailable)

	// Cached documents are still served.
	f.AddDocument(ann, "Lease", ptr.Date(2024, 1, 1))
	docs, err = c.ListDocuments(f.Ctx, ann, false)
	testutil.MustNoErr(t, err, "ListDocuments with cached documents")
	testutil.AssertStrings(t, subjects(docs), "Lease")

	// Unknown recipients never reach the mail source.
	docs, err = c.ListDocuments(f.Ctx, "nobody@x.com", false)
	testutil.MustNoErr(t, err, "ListDocuments for unknown recipient")
	if len(docs) != 0 {
		t.Errorf("docs = %v, want none", docs)
	}
}

func TestRefresh_PurgesDocumentsMissingFromLatestFetch(t *testing.T) {
	f := newCacheFixture(t)
	jan, feb, mar := ptr.Date(2024, 1, 1), ptr.Date(2024, 2, 1), ptr.Date(2024, 3, 1)

	f.Source.SetMessages(ann, msg("Jan", jan), msg("Feb", feb))
	sum, err := f.Cache.Refresh(f.Ctx, ann)
	testutil.MustNoErr(t, err, "first Refresh")
	if sum.Fetched != 2 || sum.Inserted != 2 || sum.Purged != 0 {
		t.Errorf("first summary = %+v", sum)
	}

	f.Source.SetMessages(ann, msg("Feb", feb), msg("Mar", mar))
	sum, err = f.Cache.Refresh(f.Ctx, ann)
	testutil.MustNoErr(t, err, "second Refresh")
	if sum.Fetched != 2 || sum.Inserted != 1 || sum.Refreshed != 1 || sum.Purged != 1 {
		t.Errorf("second summary = %+v", sum)
	}

	docs, err := f.Store.ListDocuments(f.Ctx, ann, false)
	testutil.MustNoErr(t, err, "ListDocuments")
	testutil.AssertStrings(t, subjects(docs), "Feb", "Mar")
}

func TestRefresh_IdempotentForSameFetch(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages(ann, msg("Lease", ptr.Date(2024, 1, 1), "lease.pdf"))

	for i := 0; i < 3; i++ {
		_, err := f.Cache.Refresh(f.Ctx, ann)
		testutil.MustNoErr(t, err, "Refresh")
	}
	f.AssertDocumentCount(ann, 1)
}

func TestRefresh_SameSentTimeCollapses(t *testing.T) {
	f := newCacheFixture(t)
	sent := ptr.DateTime(2024, 1, 1, 9, 0, 0)
	f.Source.SetMessages(ann, msg("First", sent), msg("Second", sent))

	sum, err := f.Cache.Refresh(f.Ctx, ann)
	testutil.MustNoErr(t, err, "Refresh")
	if sum.Inserted != 1 || sum.Refreshed != 1 {
		t.Errorf("summary = %+v, want 1 inserted 1 refreshed", sum)
	}
	f.AssertDocumentCount(ann, 1)
}

func TestRefresh_SkipsMessagesWithoutSentTime(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages(ann, msg("Draft", time.Time{}), msg("Lease", ptr.Date(2024, 1, 1)))

	sum, err := f.Cache.Refresh(f.Ctx, ann)
	testutil.MustNoErr(t, err, "Refresh")
	if sum.Fetched != 2 || sum.Inserted != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRefresh_UnknownTenant(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.Cache.Refresh(f.Ctx, "nobody@x.com")
	testutil.AssertErrorIs(t, err, documents.ErrUnknownTenant)
	if n := f.Source.CallCount(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
}

func TestRefresh_CancelledContext(t *testing.T) {
	f := newCacheFixture(t)
	f.Source.SetMessages(ann, msg("Lease", ptr.Date(2024, 1, 1)))
	ctx, cancel := context.WithCancel(f.Ctx)
	cancel()

	_, err := f.Cache.Refresh(ctx, ann)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRefreshAll_CollectsPerTenantErrors(t *testing.T) {
	f := newCacheFixture(t)
	bob := "bob@x.com"
	f.SetTenant(f.NewProperty(), "Bob", "Ray", bob)
	f.Source.SetMessages(ann, msg("Lease", ptr.Date(2024, 1, 1)))
	f.Source.ErrAfter[bob] = 0

	results, err := f.Cache.RefreshAll(f.Ctx)
	testutil.MustNoErr(t, err, "RefreshAll")
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	byRecipient := map[string]documents.RefreshResult{}
	for _, r := range results {
		byRecipient[r.Recipient] = r
	}
	if r := byRecipient[ann]; r.Err != nil || r.Summary == nil || r.Summary.Inserted != 1 {
		t.Errorf("ann result = %+v", r)
	}
	if r := byRecipient[bob]; !errors.Is(r.Err, documents.ErrRemoteUnavailable) {
		t.Errorf("bob error = %v, want ErrRemoteUnavailable", r.Err)
	}
	f.AssertDocumentCount(ann, 1)
}

func TestExpandAttachments(t *testing.T) {
	docs := []store.Document{
		{ID: 1, Subject: "Lease", Attachments: []string{"lease.pdf", "rules.pdf"}},
		{ID: 2, Subject: "Rent"},
	}

	rows := documents.ExpandAttachments(docs)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].ID != 1 || *rows[0].Attachment != "lease.pdf" {
		t.Errorf("row 0 = %d %v", rows[0].ID, rows[0].Attachment)
	}
	if rows[1].ID != 1 || *rows[1].Attachment != "rules.pdf" {
		t.Errorf("row 1 = %d %v", rows[1].ID, rows[1].Attachment)
	}
	if rows[2].ID != 2 || rows[2].Attachment != nil {
		t.Errorf("row 2 = %d %v, want nil attachment", rows[2].ID, rows[2].Attachment)
	}

	if got := documents.ExpandAttachments(nil); len(got) != 0 {
		t.Errorf("ExpandAttachments(nil) = %v", got)
	}
}
