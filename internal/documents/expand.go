package documents

import "github.com/wesm/leasevault/internal/store"

// AttachmentRow is one document paired with at most one of its attachments.
type AttachmentRow struct {
	store.Document
	Attachment *string // nil for a document without attachments
}

// ExpandAttachments fans documents out to one row per attachment. A
// document without attachments yields a single row with a nil Attachment.
func ExpandAttachments(docs []store.Document) []AttachmentRow {
	rows := make([]AttachmentRow, 0, len(docs))
	for _, d := range docs {
		if len(d.Attachments) == 0 {
			rows = append(rows, AttachmentRow{Document: d})
			continue
		}
		for i := range d.Attachments {
			rows = append(rows, AttachmentRow{Document: d, Attachment: &d.Attachments[i]})
		}
	}
	return rows
}
