package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wesm/leasevault/internal/config"
	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/graph"
	"github.com/wesm/leasevault/internal/imap"
	"github.com/wesm/leasevault/internal/mail"
	"github.com/wesm/leasevault/internal/store"
	"golang.org/x/oauth2"
)

// openStore opens the configured database and applies the schema.
func openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// newMailSource builds the configured mail source. It returns a nil Source
// when no provider is configured; the document cache then serves only
// what it already holds.
func newMailSource(mc config.MailConfig) (mail.Source, string, error) {
	switch mc.Provider {
	case config.ProviderNone:
		return nil, mc.Mailbox, nil

	case config.ProviderIMAP:
		password := ""
		if mc.IMAP.PasswordEnv != "" {
			password = os.Getenv(mc.IMAP.PasswordEnv)
			if password == "" {
				return nil, "", fmt.Errorf("IMAP password variable %s is not set", mc.IMAP.PasswordEnv)
			}
		}
		mailbox := mc.Mailbox
		if mailbox == "" {
			mailbox = mc.IMAP.Username
		}
		client := imap.NewClient(&imap.Config{
			Host:       mc.IMAP.Host,
			Port:       mc.IMAP.Port,
			TLS:        mc.IMAP.TLS,
			STARTTLS:   mc.IMAP.STARTTLS,
			Username:   mc.IMAP.Username,
			SentFolder: mc.IMAP.SentFolder,
		}, password, imap.WithLogger(logger))
		return client, mailbox, nil

	case config.ProviderGraph:
		ts, err := graphTokenSource(mc.Graph)
		if err != nil {
			return nil, "", err
		}
		opts := []graph.ClientOption{graph.WithLogger(logger)}
		if mc.Graph.BaseURL != "" {
			opts = append(opts, graph.WithBaseURL(mc.Graph.BaseURL))
		}
		if mc.Graph.RateLimitQPS > 0 {
			opts = append(opts, graph.WithRateLimit(mc.Graph.RateLimitQPS, max(1, int(mc.Graph.RateLimitQPS))))
		}
		return graph.NewClient(ts, opts...), mc.Mailbox, nil
	}
	return nil, "", fmt.Errorf("unknown mail provider %q", mc.Provider)
}

func graphTokenSource(gc config.GraphConfig) (oauth2.TokenSource, error) {
	if gc.TokenFile != "" {
		ts, err := graph.TokenFromFile(gc.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read graph token: %w", err)
		}
		return ts, nil
	}
	secret := strings.TrimSpace(os.Getenv(gc.ClientSecretEnv))
	if secret == "" {
		return nil, fmt.Errorf("graph client secret variable %q is not set", gc.ClientSecretEnv)
	}
	return graph.ClientCredentials(gc.TenantID, gc.ClientID, secret), nil
}

// openDocumentCache opens the store and wires it to the configured mail
// source. The returned cleanup closes both.
func openDocumentCache(ctx context.Context) (*store.Store, *documents.Cache, func(), error) {
	s, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	src, mailbox, err := newMailSource(cfg.Mail)
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}
	if src == nil {
		logger.Debug("no mail provider configured, cache misses will fail")
	}
	cache := documents.New(s, src, mailbox, documents.WithLogger(logger))
	cleanup := func() {
		if src != nil {
			if err := src.Close(); err != nil {
				logger.Warn("close mail source", "error", err)
			}
		}
		_ = s.Close()
	}
	return s, cache, cleanup, nil
}
