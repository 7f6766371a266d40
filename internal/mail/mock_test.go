package mail

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockSource_SentTo(t *testing.T) {
	m := NewMockSource()
	m.AddMessage("Ann@X.com", SentMessage{Subject: "one", SentAt: time.Unix(1, 0)})
	m.AddMessage("ann@x.com", SentMessage{Subject: "two", SentAt: time.Unix(2, 0)})

	seq := m.SentTo(context.Background(), "office@x.com", "ANN@x.com")
	if m.CallCount() != 0 {
		t.Fatal("SentTo should not record a call before iteration")
	}

	msgs, err := Collect(seq)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Subject != "one" || msgs[1].Subject != "two" {
		t.Errorf("messages = %+v", msgs)
	}
	if m.CallCount() != 1 || m.Mailboxes[0] != "office@x.com" {
		t.Errorf("calls = %v mailboxes = %v", m.Calls, m.Mailboxes)
	}
}

func TestMockSource_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("immediate", func(t *testing.T) {
		m := NewMockSource()
		m.AddMessage("a@x.com", SentMessage{Subject: "one"})
		m.Err = boom
		msgs, err := Collect(m.SentTo(context.Background(), "", "a@x.com"))
		if !errors.Is(err, boom) || msgs != nil {
			t.Errorf("Collect = %v, %v; want nil, boom", msgs, err)
		}
	})

	t.Run("mid-sequence", func(t *testing.T) {
		m := NewMockSource()
		m.SetMessages("a@x.com", SentMessage{Subject: "one"}, SentMessage{Subject: "two"})
		m.ErrAfter["a@x.com"] = 1

		var seen int
		var gotErr error
		for _, err := range m.SentTo(context.Background(), "", "a@x.com") {
			if err != nil {
				gotErr = err
				break
			}
			seen++
		}
		if seen != 1 || !errors.Is(gotErr, ErrMockFailure) {
			t.Errorf("seen %d messages, err %v; want 1, ErrMockFailure", seen, gotErr)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		m := NewMockSource()
		m.SetMessages("a@x.com", SentMessage{Subject: "one"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Collect(m.SentTo(ctx, "", "a@x.com"))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestMockSource_Close(t *testing.T) {
	m := NewMockSource()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.CloseCalls != 1 {
		t.Errorf("CloseCalls = %d, want 1", m.CloseCalls)
	}
}
