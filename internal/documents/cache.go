// Package documents keeps the local copy of correspondence sent to tenants
// in step with the remote mailbox.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wesm/leasevault/internal/mail"
	"github.com/wesm/leasevault/internal/store"
)

var (
	// ErrRemoteUnavailable reports that the mail source could not be read.
	// Nothing was committed; the cache is as it was before the call.
	ErrRemoteUnavailable = errors.New("remote mail source unavailable")

	// ErrUnknownTenant reports a refresh for an address no tenant has.
	ErrUnknownTenant = errors.New("unknown tenant")
)

// Store is the part of the record repository the cache uses.
type Store interface {
	GetTenant(ctx context.Context, email string) (*store.Tenant, error)
	ListTenants(ctx context.Context) ([]store.Tenant, error)
	ListDocuments(ctx context.Context, recipient string, attachmentsOnly bool) ([]store.Document, error)
	CommitDocuments(ctx context.Context, recipient string, docs []store.NewDocument, retrievedAt time.Time) (*store.CommitSummary, error)
}

// Option is a functional option for Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock sets the source of retrieval timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache serves tenant documents from the local store, falling back to the
// remote mailbox when nothing is cached.
type Cache struct {
	store   Store
	source  mail.Source
	mailbox string
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes fetch-and-commit cycles so commits land in the order
	// of their retrieval stamps.
	mu sync.Mutex
}

// New creates a Cache reading sent mail of mailbox from src. A nil src
// leaves the cache offline: cached documents are still served, but a miss
// fails with ErrRemoteUnavailable.
func New(st Store, src mail.Source, mailbox string, opts ...Option) *Cache {
	c := &Cache{
		store:   st,
		source:  src,
		mailbox: mailbox,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshSummary counts the effect of one fetch-and-commit cycle.
type RefreshSummary struct {
	Recipient string
	Fetched   int
	Inserted  int
	Refreshed int
	Purged    int
	Duration  time.Duration
}

// RefreshResult is the outcome of refreshing one tenant in RefreshAll.
type RefreshResult struct {
	Recipient string
	Summary   *RefreshSummary
	Err       error
}

// ListDocuments returns the documents sent to recipient, oldest first. The
// local cache is consulted first; only when it has nothing matching is the
// remote mailbox read, committed and the cache queried again.
//
// An address that belongs to no tenant yields an empty result without any
// remote call. A remote failure returns ErrRemoteUnavailable and leaves the
// cache untouched.
func (c *Cache) ListDocuments(ctx context.Context, recipient string, attachmentsOnly bool) ([]store.Document, error) {
	recipient = store.NormalizeEmail(recipient)

	docs, err := c.store.ListDocuments(ctx, recipient, attachmentsOnly)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		return docs, nil
	}

	tenant, err := c.store.GetTenant(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		c.logger.Debug("no tenant for recipient, skipping remote fetch", "recipient", recipient)
		return docs, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("list documents for %s: %w: no mail source configured", recipient, ErrRemoteUnavailable)
	}

	if _, err := c.fetchAndCommit(ctx, recipient); err != nil {
		return nil, err
	}
	return c.store.ListDocuments(ctx, recipient, attachmentsOnly)
}

// Refresh reads the remote mailbox for recipient and commits the result
// regardless of what is cached.
func (c *Cache) Refresh(ctx context.Context, recipient string) (*RefreshSummary, error) {
	recipient = store.NormalizeEmail(recipient)

	tenant, err := c.store.GetTenant(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("refresh %s: %w", recipient, ErrUnknownTenant)
	}
	if c.source == nil {
		return nil, fmt.Errorf("refresh %s: %w: no mail source configured", recipient, ErrRemoteUnavailable)
	}
	return c.fetchAndCommit(ctx, recipient)
}

// RefreshAll refreshes every tenant in turn. A failure for one tenant is
// recorded in its result and does not stop the others; the returned error is
// set only when the tenant list cannot be read or ctx is done.
func (c *Cache) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	tenants, err := c.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	results := make([]RefreshResult, 0, len(tenants))
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		summary, err := c.Refresh(ctx, t.Email)
		if err != nil {
			c.logger.Warn("refresh failed", "recipient", t.Email, "error", err)
		}
		results = append(results, RefreshResult{Recipient: t.Email, Summary: summary, Err: err})
	}
	return results, nil
}

// fetchAndCommit collects the complete remote listing before touching the
// store, then commits it in one transaction stamped with a single retrieval
// time. Documents the listing no longer contains are purged by the commit.
func (c *Cache) fetchAndCommit(ctx context.Context, recipient string) (*RefreshSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	msgs, err := mail.Collect(c.source.SentTo(ctx, c.mailbox, recipient))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("remote fetch failed", "recipient", recipient, "error", err)
		return nil, fmt.Errorf("fetch documents for %s: %w: %w", recipient, ErrRemoteUnavailable, err)
	}

	docs := make([]store.NewDocument, 0, len(msgs))
	for _, m := range msgs {
		if m.SentAt.IsZero() {
			c.logger.Warn("skipping message without sent time", "recipient", recipient, "subject", m.Subject)
			continue
		}
		docs = append(docs, store.NewDocument{
			Subject:     m.Subject,
			DateSent:    m.SentAt,
			Attachments: m.Attachments,
		})
	}

	commit, err := c.store.CommitDocuments(ctx, recipient, docs, c.now())
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{
		Recipient: recipient,
		Fetched:   len(msgs),
		Inserted:  commit.Inserted,
		Refreshed: commit.Refreshed,
		Purged:    commit.Purged,
		Duration:  time.Since(start),
	}
	c.logger.Info("documents refreshed",
		"recipient", recipient,
		"fetched", summary.Fetched,
		"inserted", summary.Inserted,
		"refreshed", summary.Refreshed,
		"purged", summary.Purged,
		"duration", summary.Duration,
	)
	return summary, nil
}
