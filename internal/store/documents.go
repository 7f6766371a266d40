package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Document is a piece of correspondence sent to a tenant. Its natural key is
// (DateSent, Recipient).
type Document struct {
	ID            int64
	Subject       string
	Recipient     string
	DateSent      time.Time
	DateRetrieved time.Time
	Attachments   []string

	// Tenant fields joined from document_tenant_view.
	FirstName  string
	LastName   string
	PropertyID string
}

// HasAttachments reports whether the document carries at least one attachment.
func (d *Document) HasAttachments() bool {
	return len(d.Attachments) > 0
}

// NewDocument is a document about to be committed to the cache.
type NewDocument struct {
	Subject     string
	DateSent    time.Time
	Attachments []string
}

// CommitSummary counts the effect of CommitDocuments.
type CommitSummary struct {
	Inserted  int // New rows
	Refreshed int // Existing rows whose date_retrieved was updated
	Purged    int // Stale rows removed
}

// NormalizeEmail lower-cases and trims an address the way tenant emails are
// stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListDocuments returns the cached documents sent to recipient, oldest send
// first. With attachmentsOnly, documents without attachments are skipped.
func (s *Store) ListDocuments(ctx context.Context, recipient string, attachmentsOnly bool) ([]Document, error) {
	query := `
		SELECT id, subject, recipient, date_sent, date_retrieved, attachments,
			first_name, last_name, property_id
		FROM document_tenant_view
		WHERE recipient = ?`
	if attachmentsOnly {
		query += ` AND attachments IS NOT NULL`
	}
	query += ` ORDER BY date_sent, id`

	rows, err := s.db.QueryContext(ctx, s.Rebind(query), NormalizeEmail(recipient))
	if err != nil {
		return nil, fmt.Errorf("list documents for %q: %w", recipient, Classify(err))
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var sent, retrieved dbTime
		var attachments, first, last sql.NullString
		if err := rows.Scan(&d.ID, &d.Subject, &d.Recipient, &sent, &retrieved, &attachments,
			&first, &last, &d.PropertyID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.DateSent, d.DateRetrieved = sent.Time, retrieved.Time
		d.FirstName, d.LastName = first.String, last.String
		if d.Attachments, err = decodeAttachments(attachments); err != nil {
			return nil, fmt.Errorf("document %d: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents for %q: %w", recipient, Classify(err))
	}
	return docs, nil
}

// AddDocument records a single document for recipient, retrieved now. If a
// document with the same natural key exists only its date_retrieved is
// refreshed. No stale rows are purged.
func (s *Store) AddDocument(ctx context.Context, recipient string, doc NewDocument) (WriteKind, error) {
	var kind WriteKind
	recipient = NormalizeEmail(recipient)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		kind, err = s.upsertDocumentTx(ctx, tx, recipient, doc, dbNow())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("add document for %q: %w", recipient, err)
	}
	return kind, nil
}

// CommitDocuments upserts docs for recipient in one transaction, stamping
// every row with retrievedAt, then purges the recipient's documents whose
// date_retrieved predates the earliest retrieval stamped by this commit.
// Because every row of the commit shares retrievedAt, the purge removes
// exactly the cached documents that the latest fetch no longer reported.
//
// On any error the transaction is rolled back and the cache is unchanged.
func (s *Store) CommitDocuments(ctx context.Context, recipient string, docs []NewDocument, retrievedAt time.Time) (*CommitSummary, error) {
	recipient = NormalizeEmail(recipient)
	retrievedAt = normalizeTime(retrievedAt)
	summary := &CommitSummary{}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			kind, err := s.upsertDocumentTx(ctx, tx, recipient, doc, retrievedAt)
			if err != nil {
				return err
			}
			if kind == WriteInserted {
				summary.Inserted++
			} else {
				summary.Refreshed++
			}
		}

		res, err := tx.ExecContext(ctx, s.Rebind(`
			DELETE FROM documents WHERE recipient = ? AND date_retrieved < ?
		`), recipient, retrievedAt)
		if err != nil {
			return Classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		summary.Purged = int(n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit documents for %q: %w", recipient, err)
	}
	return summary, nil
}

// upsertDocumentTx inserts doc or, when its natural key already exists,
// refreshes date_retrieved only. Sent content is treated as immutable.
func (s *Store) upsertDocumentTx(ctx context.Context, tx *sql.Tx, recipient string, doc NewDocument, retrievedAt time.Time) (WriteKind, error) {
	if doc.DateSent.IsZero() {
		return 0, fmt.Errorf("%w: document %q has no sent time", ErrConstraintViolation, doc.Subject)
	}
	sent := normalizeTime(doc.DateSent)

	var id int64
	err := tx.QueryRowContext(ctx, s.Rebind(`
		SELECT id FROM documents WHERE date_sent = ? AND recipient = ?
	`), sent, recipient).Scan(&id)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, s.Rebind(`
			UPDATE documents SET date_retrieved = ? WHERE id = ?
		`), retrievedAt, id)
		if err != nil {
			return 0, Classify(err)
		}
		return WriteUpdated, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, Classify(err)
	}

	attachments, err := encodeAttachments(doc.Attachments)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, s.Rebind(`
		INSERT INTO documents (subject, recipient, date_sent, date_retrieved, attachments)
		VALUES (?, ?, ?, ?, ?)
	`), doc.Subject, recipient, sent, retrievedAt, attachments)
	if err != nil {
		return 0, Classify(err)
	}
	return WriteInserted, nil
}

// encodeAttachments stores attachment names as a JSON array; no attachments
// is stored as NULL so "has attachments" is a NULL check.
func encodeAttachments(names []string) (sql.NullString, error) {
	if len(names) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(names)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode attachments: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeAttachments(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(v.String), &names); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return names, nil
}

// dbTime scans a timestamp column. SQLite returns time.Time only when it can
// see the declared column type; through views and expressions it may hand
// back the stored text instead.
type dbTime struct {
	Time time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
