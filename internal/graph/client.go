// Package graph reads sent correspondence from a Microsoft 365 mailbox
// through the Microsoft Graph REST API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/leasevault/internal/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultPageSize = 50
	defaultRPS      = 4.0
	graphScope      = "https://graph.microsoft.com/.default"

	// maxResponseBytes caps one page or error body.
	maxResponseBytes = 10 << 20
)

// APIError is a non-2xx response from Graph.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithBaseURL points the client at another Graph endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the OAuth2 HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces page requests. A zero limit disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithPageSize sets $top for message listings.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// Client implements mail.Source for Microsoft Graph. Requests are never
// retried: the first failure ends the sequence.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
	pageSize   int
	maxBody    int64
}

var _ mail.Source = (*Client)(nil)

// NewClient creates a Graph client authenticating with tokenSource.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: oauth2.NewClient(context.Background(), tokenSource),
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(defaultRPS), 1),
		logger:     slog.Default(),
		pageSize:   defaultPageSize,
		maxBody:    maxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientCredentials returns a token source for an Entra ID application
// using the client credentials grant.
func ClientCredentials(tenantID, clientID, clientSecret string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://login.microsoftonline.com/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token",
		Scopes:       []string{graphScope},
	}
	return cfg.TokenSource(context.Background())
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type messagePage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	Subject      string    `json:"subject"`
	SentDateTime time.Time `json:"sentDateTime"`
	Attachments  []struct {
		Name string `json:"name"`
	} `json:"attachments"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SentTo lists messages in the Sent Items folder of mailbox whose To
// recipients include recipient, following @odata.nextLink across pages.
func (c *Client) SentTo(ctx context.Context, mailbox, recipient string) iter.Seq2[mail.SentMessage, error] {
	return func(yield func(mail.SentMessage, error) bool) {
		if mailbox == "" {
			yield(mail.SentMessage{}, fmt.Errorf("graph: mailbox is required"))
			return
		}

		next := c.sentItemsURL(mailbox, recipient)
		for page := 1; next != ""; page++ {
			var p messagePage
			if err := c.get(ctx, next, &p); err != nil {
				yield(mail.SentMessage{}, err)
				return
			}
			c.logger.Debug("fetched sent items page", "mailbox", mailbox, "recipient", recipient,
				"page", page, "count", len(p.Value))

			for _, m := range p.Value {
				if !yield(toSentMessage(m), nil) {
					return
				}
			}
			next = p.NextLink
		}
	}
}

func (c *Client) sentItemsURL(mailbox, recipient string) string {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("toRecipients/any(r:r/emailAddress/address eq '%s')", odataString(recipient)))
	q.Set("$select", "subject,sentDateTime,hasAttachments")
	q.Set("$expand", "attachments($select=name)")
	q.Set("$top", strconv.Itoa(c.pageSize))
	return fmt.Sprintf("%s/users/%s/mailFolders/sentitems/messages?%s",
		c.baseURL, url.PathEscape(mailbox), q.Encode())
}

// odataString escapes a value for a single-quoted OData string literal.
func odataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func toSentMessage(m graphMessage) mail.SentMessage {
	var names []string
	for _, a := range m.Attachments {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return mail.SentMessage{
		Subject:     m.Subject,
		SentAt:      m.SentDateTime.UTC(),
		Attachments: names,
	}
}

// get issues one paced GET and decodes a JSON response into out.
func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return fmt.Errorf("read response: body exceeds %d bytes", c.maxBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Code, apiErr.Message = eb.Error.Code, eb.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
