package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/wesm/leasevault/internal/config"
	"github.com/wesm/leasevault/internal/graph"
	"github.com/wesm/leasevault/internal/imap"
	"github.com/wesm/leasevault/internal/testutil"
)

func TestNewMailSource(t *testing.T) {
	logger = slog.New(slog.DiscardHandler)

	t.Run("none", func(t *testing.T) {
		src, _, err := newMailSource(config.MailConfig{})
		if err != nil || src != nil {
			t.Fatalf("newMailSource() = %v, %v; want nil source", src, err)
		}
	})

	t.Run("imap mailbox defaults to username", func(t *testing.T) {
		t.Setenv("LV_IMAP_PASSWORD", "hunter2")
		src, mailbox, err := newMailSource(config.MailConfig{
			Provider: config.ProviderIMAP,
			IMAP:     config.IMAPConfig{Host: "mail.example", Username: "office@agency.example", PasswordEnv: "LV_IMAP_PASSWORD"},
		})
		if err != nil {
			t.Fatalf("newMailSource() error = %v", err)
		}
		if _, ok := src.(*imap.Client); !ok {
			t.Errorf("source = %T, want *imap.Client", src)
		}
		if mailbox != "office@agency.example" {
			t.Errorf("mailbox = %q", mailbox)
		}
	})

	t.Run("imap password unset", func(t *testing.T) {
		t.Setenv("LV_IMAP_PASSWORD", "")
		_, _, err := newMailSource(config.MailConfig{
			Provider: config.ProviderIMAP,
			IMAP:     config.IMAPConfig{Host: "mail.example", Username: "u", PasswordEnv: "LV_IMAP_PASSWORD"},
		})
		if err == nil {
			t.Fatal("expected error for unset password variable")
		}
		testutil.AssertContainsAll(t, err.Error(), []string{"LV_IMAP_PASSWORD", "not set"})
	})

	t.Run("graph client credentials", func(t *testing.T) {
		t.Setenv("LV_GRAPH_SECRET", "s3cret")
		src, mailbox, err := newMailSource(config.MailConfig{
			Provider: config.ProviderGraph,
			Mailbox:  "office@agency.example",
			Graph:    config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecretEnv: "LV_GRAPH_SECRET", RateLimitQPS: 4},
		})
		if err != nil {
			t.Fatalf("newMailSource() error = %v", err)
		}
		if _, ok := src.(*graph.Client); !ok {
			t.Errorf("source = %T, want *graph.Client", src)
		}
		if mailbox != "office@agency.example" {
			t.Errorf("mailbox = %q", mailbox)
		}
	})

	t.Run("graph secret unset", func(t *testing.T) {
		t.Setenv("LV_GRAPH_SECRET", "")
		_, _, err := newMailSource(config.MailConfig{
			Provider: config.ProviderGraph,
			Mailbox:  "office@agency.example",
			Graph:    config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecretEnv: "LV_GRAPH_SECRET"},
		})
		if err == nil {
			t.Fatal("expected error for unset client secret")
		}
		testutil.AssertContainsAll(t, err.Error(), []string{"LV_GRAPH_SECRET", "not set"})
	})

	t.Run("graph token file missing", func(t *testing.T) {
		_, _, err := newMailSource(config.MailConfig{
			Provider: config.ProviderGraph,
			Mailbox:  "office@agency.example",
			Graph:    config.GraphConfig{TokenFile: filepath.Join(t.TempDir(), "token.json")},
		})
		if err == nil {
			t.Fatal("expected error for missing token file")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, _, err := newMailSource(config.MailConfig{Provider: "pop3"}); err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"/data/leasevault.db", "/data/leasevault.db"},
		{"postgres://lv:secret@db:5432/lv", "postgres://lv:xxxxx@db:5432/lv"},
		{"postgresql://db/lv", "postgresql://db/lv"},
	}
	for _, tt := range tests {
		if got := redactDSN(tt.dsn); got != tt.want {
			t.Errorf("redactDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestOpenStoreCreatesSchema(t *testing.T) {
	home := t.TempDir()
	cfg = config.NewDefaultConfig()
	cfg.Data.DataDir = home
	t.Cleanup(func() { cfg = nil })

	s, err := openStore(t.Context())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(filepath.Join(home, "leasevault.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if v, err := s.SchemaVersion(t.Context()); err != nil || v == 0 {
		t.Errorf("SchemaVersion() = %d, %v", v, err)
	}
}
