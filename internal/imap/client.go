package imap

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/wesm/leasevault/internal/mail"
	"github.com/wesm/leasevault/internal/mime"
)

// defaultBatchSize is the number of messages fetched per UID FETCH.
const defaultBatchSize = 50

// sentFolderNames are tried, case-insensitively, when no mailbox carries the
// \Sent special-use attribute.
var sentFolderNames = []string{
	"Sent", "Sent Items", "Sent Messages", "Sent Mail", "[Gmail]/Sent Mail", "INBOX.Sent",
}

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBatchSize sets how many messages are fetched per round trip.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// Client implements mail.Source for IMAP servers.
type Client struct {
	config    *Config
	password  string
	logger    *slog.Logger
	batchSize int

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
	sentFolder      string // cached Sent folder name
}

var _ mail.Source = (*Client)(nil)

// NewClient creates a new IMAP client. No connection is made until the
// first SentTo sequence is ranged over.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:    cfg,
		password:  password,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS, "starttls", c.config.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, imapOpts)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	default:
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := conn.Login(c.config.Username, c.password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("IMAP login: %w", err)
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.logger.Debug("connected and authenticated", "user", c.config.Username)
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return err
	}
	return fn(c.conn)
}

// selectMailbox selects a mailbox read-only if not already selected.
// Caller must hold mu.
func (c *Client) selectMailbox(mailbox string) error {
	if c.selectedMailbox == mailbox {
		return nil
	}
	if _, err := c.conn.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	c.selectedMailbox = mailbox
	return nil
}

// sentFolderLocked resolves the Sent folder, caching the result.
// Caller must hold mu.
func (c *Client) sentFolderLocked() (string, error) {
	if c.config.SentFolder != "" {
		return c.config.SentFolder, nil
	}
	if c.sentFolder != "" {
		return c.sentFolder, nil
	}

	items, err := c.conn.List("", "*", nil).Collect()
	if err != nil {
		return "", fmt.Errorf("LIST: %w", err)
	}
	folder := pickSentFolder(items)
	if folder == "" {
		return "", fmt.Errorf("no Sent folder found on %s", c.config.Identifier())
	}
	c.sentFolder = folder
	c.logger.Debug("using sent folder", "mailbox", folder)
	return folder, nil
}

// pickSentFolder prefers a mailbox with the \Sent attribute, then the first
// common Sent folder name present on the server.
func pickSentFolder(items []*imap.ListData) string {
	var names []string
	for _, item := range items {
		if hasAttr(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		if hasAttr(item.Attrs, imap.MailboxAttrSent) {
			return item.Mailbox
		}
		names = append(names, item.Mailbox)
	}
	for _, candidate := range sentFolderNames {
		for _, mb := range names {
			if strings.EqualFold(mb, candidate) {
				return mb
			}
		}
	}
	return ""
}

func hasAttr(attrs []imap.MailboxAttr, attr imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}

// SentTo lists the messages in the Sent folder addressed to recipient.
// Matching UIDs are found with one UID SEARCH, then fetched in batches; the
// connection lock is released between batches.
//
// mailbox must be empty or name the account the client is logged in as.
func (c *Client) SentTo(ctx context.Context, mailbox, recipient string) iter.Seq2[mail.SentMessage, error] {
	return func(yield func(mail.SentMessage, error) bool) {
		if mailbox != "" && !strings.EqualFold(mailbox, c.config.Username) {
			yield(mail.SentMessage{}, fmt.Errorf("IMAP client is logged in as %s, cannot read mailbox %s",
				c.config.Username, mailbox))
			return
		}

		folder, uids, err := c.searchSent(ctx, recipient)
		if err != nil {
			yield(mail.SentMessage{}, err)
			return
		}
		c.logger.Debug("found sent messages", "recipient", recipient, "count", len(uids))

		for start := 0; start < len(uids); start += c.batchSize {
			end := min(start+c.batchSize, len(uids))
			msgs, err := c.fetchBatch(ctx, folder, recipient, uids[start:end])
			if err != nil {
				yield(mail.SentMessage{}, err)
				return
			}
			for _, msg := range msgs {
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

func (c *Client) searchSent(ctx context.Context, recipient string) (string, []imap.UID, error) {
	var (
		folder string
		uids   []imap.UID
	)
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		var err error
		if folder, err = c.sentFolderLocked(); err != nil {
			return err
		}
		if err := c.selectMailbox(folder); err != nil {
			return err
		}

		criteria := &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "To", Value: recipient}},
		}
		searchData, err := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH in %q: %w", folder, err)
		}
		if uidSet, ok := searchData.All.(imap.UIDSet); ok {
			uids, _ = uidSet.Nums()
		}
		return nil
	})
	return folder, uids, err
}

func (c *Client) fetchBatch(ctx context.Context, folder, recipient string, uids []imap.UID) ([]mail.SentMessage, error) {
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}}, // entire message, leave \Seen alone
	}

	var out []mail.SentMessage
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(folder); err != nil {
			return err
		}
		var uidSet imap.UIDSet
		for _, uid := range uids {
			uidSet.AddNum(uid)
		}
		msgs, err := conn.Fetch(uidSet, fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH in %q: %w", folder, err)
		}
		for _, msgBuf := range msgs {
			var raw []byte
			if len(msgBuf.BodySection) > 0 {
				raw = msgBuf.BodySection[0].Bytes
			}
			msg, ok := c.toSentMessage(raw, msgBuf.InternalDate, recipient)
			if ok {
				out = append(out, msg)
			}
		}
		return nil
	})
	return out, err
}

// toSentMessage converts a fetched message. Messages that cannot be parsed,
// or whose To header only contained recipient as a substring, are skipped.
func (c *Client) toSentMessage(raw []byte, internalDate time.Time, recipient string) (mail.SentMessage, bool) {
	if len(raw) == 0 {
		return mail.SentMessage{}, false
	}
	parsed, err := mime.Parse(raw)
	if err != nil {
		c.logger.Warn("skipping unparseable message", "error", err)
		return mail.SentMessage{}, false
	}
	if !parsed.AddressedTo(recipient) {
		return mail.SentMessage{}, false
	}
	sentAt := parsed.Date
	if sentAt.IsZero() {
		sentAt = internalDate.UTC()
	}
	return mail.SentMessage{
		Subject:     parsed.Subject,
		SentAt:      sentAt,
		Attachments: parsed.Attachments,
	}, true
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selectedMailbox = ""
	return conn.Logout().Wait()
}
