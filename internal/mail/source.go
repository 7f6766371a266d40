// Package mail defines the remote mail source the document cache reads
// sent correspondence from.
package mail

import (
	"context"
	"iter"
	"time"
)

// SentMessage is one message found in the sent items of the mailbox.
type SentMessage struct {
	Subject     string
	SentAt      time.Time
	Attachments []string // Attachment file names, in message order
}

// Source lists messages a mailbox has sent to a recipient.
//
// SentTo returns a lazy sequence: no remote call is made until the caller
// ranges over it, and a non-nil error ends the sequence. Implementations
// must not retry on their own.
type Source interface {
	SentTo(ctx context.Context, mailbox, recipient string) iter.Seq2[SentMessage, error]
	Close() error
}

// Collect drains seq. On the first error it stops and returns that error
// with no messages, so callers never act on a partial listing.
func Collect(seq iter.Seq2[SentMessage, error]) ([]SentMessage, error) {
	var msgs []SentMessage
	for msg, err := range seq {
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
