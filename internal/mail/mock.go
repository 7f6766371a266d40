package mail

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
)

// ErrMockFailure is injected by MockSource when ErrAfter is set without an
// explicit error.
var ErrMockFailure = errors.New("mock mail source failure")

// MockSource is an in-memory Source for tests and offline use.
type MockSource struct {
	mu sync.Mutex

	// Messages indexed by lower-cased recipient address
	Messages map[string][]SentMessage

	// Error injection
	Err      error            // Returned for every recipient
	ErrAfter map[string]int   // Fail a recipient's sequence after n messages
	RecvErr  map[string]error // Error used with ErrAfter (defaults to Err)

	// Call tracking for assertions
	Calls      []string // Recipients passed to SentTo, in order
	Mailboxes  []string // Mailboxes passed to SentTo, in order
	CloseCalls int
}

// NewMockSource creates a mock with no messages.
func NewMockSource() *MockSource {
	return &MockSource{
		Messages: make(map[string][]SentMessage),
		ErrAfter: make(map[string]int),
		RecvErr:  make(map[string]error),
	}
}

// AddMessage appends msg to the messages sent to recipient.
func (m *MockSource) AddMessage(recipient string, msg SentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(recipient)
	m.Messages[key] = append(m.Messages[key], msg)
}

// SetMessages replaces the messages sent to recipient.
func (m *MockSource) SetMessages(recipient string, msgs ...SentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[strings.ToLower(recipient)] = msgs
}

// CallCount returns how many times SentTo was ranged over.
func (m *MockSource) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SentTo yields the configured messages for recipient. The call is recorded
// when the sequence is first ranged over, not when SentTo returns.
func (m *MockSource) SentTo(ctx context.Context, mailbox, recipient string) iter.Seq2[SentMessage, error] {
	return func(yield func(SentMessage, error) bool) {
		key := strings.ToLower(recipient)

		m.mu.Lock()
		m.Calls = append(m.Calls, key)
		m.Mailboxes = append(m.Mailboxes, mailbox)
		msgs := append([]SentMessage(nil), m.Messages[key]...)
		failErr := m.Err
		after, failLate := m.ErrAfter[key]
		if e, ok := m.RecvErr[key]; ok {
			failErr = e
		}
		m.mu.Unlock()
		if failLate && failErr == nil {
			failErr = ErrMockFailure
		}

		if failErr != nil && !failLate {
			yield(SentMessage{}, failErr)
			return
		}
		for i, msg := range msgs {
			if failLate && i == after {
				yield(SentMessage{}, failErr)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(SentMessage{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if failLate && after >= len(msgs) {
			yield(SentMessage{}, failErr)
		}
	}
}

// Close records the call.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}
