// File: internal/mailbox/client.go
// Description: REST client for the hosted inbox service that receives
// verification emails. Implements schemas.MessageStore. The client is shared
// by concurrent runs and carries no per-run state.
package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/config"
)

const requestTimeout = 15 * time.Second

// Client talks to the inbox API (AgentMail-compatible surface).
type Client struct {
	baseURL     string
	apiKey      string
	inboxID     string
	emailDomain string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient builds a mailbox client from configuration.
func NewClient(cfg config.MailConfig, emailDomain string, logger *zap.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		inboxID:     cfg.InboxID,
		emailDomain: emailDomain,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		logger:      logger.Named("mailbox"),
	}
}

// ReserveRecipient returns a fresh plus-addressed variant of the configured
// inbox. The tag makes each reservation unique, so concurrent runs sharing
// the inbox each get their own recipient and never see each other's mail.
func (c *Client) ReserveRecipient(ctx context.Context) (string, error) {
	if c.inboxID == "" {
		return "", fmt.Errorf("%w: mail inbox id is not configured", schemas.ErrConfiguration)
	}
	local, domain, ok := strings.Cut(c.inboxID, "@")
	if !ok {
		local, domain = c.inboxID, c.emailDomain
	}
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return local + "+" + tag + "@" + domain, nil
}

// wireMessage mirrors the inbox API's message shape.
type wireMessage struct {
	MessageID string    `json:"message_id"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Preview   string    `json:"preview"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	Timestamp time.Time `json:"timestamp"`
}

type listMessagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// ListMessages returns messages for recipient received after since, newest
// first. The upstream read is idempotent and safe to re-query.
func (c *Client) ListMessages(ctx context.Context, recipient string, since time.Time) ([]schemas.VerificationMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/inboxes/%s/messages", c.baseURL, c.inboxID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox messages: %w", err)
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode inbox response: %w", err)
	}

	var out []schemas.VerificationMessage
	for _, m := range resp.Messages {
		if !m.Timestamp.After(since) {
			continue
		}
		if !addressedTo(m.To, recipient) {
			continue
		}
		content := m.Text
		if content == "" {
			content = m.HTML
		}
		if content == "" {
			content = m.Preview
		}
		out = append(out, schemas.VerificationMessage{
			ID:         m.MessageID,
			Recipient:  recipient,
			Subject:    m.Subject,
			ReceivedAt: m.Timestamp,
			RawContent: content,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

// addressedTo matches the recipient against the To list. A tagged recipient
// must match exactly; the tag is what ties a message to one reservation, so
// stripping it here would leak mail between runs sharing the inbox. An
// untagged recipient matches on the canonical form, accepting tagged
// deliveries too.
func addressedTo(to []string, recipient string) bool {
	want := strings.ToLower(strings.TrimSpace(recipient))
	tagged := strings.Contains(strings.SplitN(want, "@", 2)[0], "+")
	for _, addr := range to {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == want {
			return true
		}
		if !tagged && canonicalAddress(addr) == want {
			return true
		}
	}
	return false
}

func canonicalAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return addr
	}
	if tag := strings.Index(local, "+"); tag >= 0 {
		local = local[:tag]
	}
	return local + "@" + domain
}

// get performs an authenticated GET with exponential backoff on transient
// failures. 4xx responses are permanent; everything else retries.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("Inbox request failed, retrying", zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = data
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return backoff.Permanent(fmt.Errorf("inbox API returned %d: %s", resp.StatusCode, truncate(data, 200)))
		default:
			return fmt.Errorf("inbox API returned %d", resp.StatusCode)
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[:n])) + "..."
}
