// Package mime extracts the header fields and attachment names the document
// cache records from raw RFC 5322 messages, using enmime.
package mime

import (
	"bytes"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Message is the subset of a parsed email that describes a sent document.
type Message struct {
	Subject     string
	Date        time.Time
	To          []string // Lower-cased recipient addresses (To and Cc)
	Attachments []string // Attachment file names
	Errors      []string // Non-fatal parsing errors
}

// Parse parses raw MIME data into a Message.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
	}
	if dateStr := env.GetHeader("Date"); dateStr != "" {
		msg.Date = parseDate(dateStr)
	}

	msg.To = append(parseAddressList(env, "To"), parseAddressList(env, "Cc")...)

	msg.Attachments = append(msg.Attachments, attachmentNames(env.Attachments)...)
	msg.Attachments = append(msg.Attachments, attachmentNames(env.Inlines)...)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}
	return msg, nil
}

// AddressedTo reports whether email is among the message recipients.
func (m *Message) AddressedTo(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, addr := range m.To {
		if addr == email {
			return true
		}
	}
	return false
}

func parseAddressList(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}
	addrs := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addrs = append(addrs, strings.ToLower(addr.Address))
	}
	return addrs
}

// isBodyPart reports whether part is message body rather than an attachment:
// text/plain or text/html with no filename and no explicit
// "Content-Disposition: attachment".
func isBodyPart(part *enmime.Part) bool {
	contentType := baseValue(part.ContentType)
	if contentType != "text/plain" && contentType != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	return baseValue(part.Disposition) != "attachment"
}

// baseValue strips header parameters: "text/plain; charset=utf-8" becomes
// "text/plain".
func baseValue(v string) string {
	v = strings.ToLower(v)
	if idx := strings.Index(v, ";"); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// attachmentNames returns the file names of the non-body parts. Parts with
// no file name are listed under their content type.
func attachmentNames(parts []*enmime.Part) []string {
	var names []string
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		name := strings.TrimSpace(part.FileName)
		if name == "" {
			name = baseValue(part.ContentType)
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// dateFormats lists common email date formats for parseDate.
var dateFormats = []string{
	time.RFC1123Z,                    // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                     // "Mon, 02 Jan 2006 15:04:05 MST"
	"Mon, 2 Jan 2006 15:04:05 -0700", // Single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700", // No weekday
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate parses a Date header in UTC. An unparseable value yields the
// zero time; callers fall back to the server's date.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	// "Mon, 2 Jan 2006 15:04:05 -0700 (PST)": drop the comment
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
