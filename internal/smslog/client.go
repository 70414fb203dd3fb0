// File: internal/smslog/client.go
// Description: REST client for the SMS provider's message log, used for
// phone-verified platforms. Implements schemas.MessageStore with the same
// newest-first, re-queryable contract as the mailbox client.
package smslog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/config"
)

const requestTimeout = 15 * time.Second

// rfc2822 is the timestamp layout the SMS API uses (Twilio-compatible).
const rfc2822 = "Mon, 02 Jan 2006 15:04:05 -0700"

// Client reads inbound SMS from the provider's message log.
type Client struct {
	baseURL     string
	accountSID  string
	authToken   string
	phoneNumber string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient builds an SMS log client from configuration.
func NewClient(cfg config.SMSConfig, logger *zap.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accountSID:  cfg.AccountSID,
		authToken:   cfg.AuthToken,
		phoneNumber: cfg.PhoneNumber,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		logger:      logger.Named("smslog"),
	}
}

// ReserveRecipient returns the provisioned phone number. SMS numbers are
// rented ahead of time, so reservation is a configuration lookup rather than
// an allocation call.
func (c *Client) ReserveRecipient(ctx context.Context) (string, error) {
	if c.phoneNumber == "" {
		return "", fmt.Errorf("%w: sms phone number is not configured", schemas.ErrConfiguration)
	}
	return c.phoneNumber, nil
}

type wireSMS struct {
	SID      string `json:"sid"`
	To       string `json:"to"`
	From     string `json:"from"`
	Body     string `json:"body"`
	DateSent string `json:"date_sent"`
}

type listSMSResponse struct {
	Messages []wireSMS `json:"messages"`
}

// ListMessages returns inbound SMS for recipient received after since,
// newest first.
func (c *Client) ListMessages(ctx context.Context, recipient string, since time.Time) ([]schemas.VerificationMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("To", recipient)
	query.Set("PageSize", "50")
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json?%s", c.baseURL, c.accountSID, query.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list sms messages: %w", err)
	}

	var resp listSMSResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode sms response: %w", err)
	}

	var out []schemas.VerificationMessage
	for _, m := range resp.Messages {
		sentAt, err := time.Parse(rfc2822, m.DateSent)
		if err != nil {
			c.logger.Debug("Skipping message with unparseable timestamp",
				zap.String("sid", m.SID), zap.String("date_sent", m.DateSent))
			continue
		}
		if !sentAt.After(since) {
			continue
		}
		out = append(out, schemas.VerificationMessage{
			ID:         m.SID,
			Recipient:  recipient,
			ReceivedAt: sentAt,
			RawContent: m.Body,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

// get performs a basic-auth GET with backoff on transient failures.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("SMS log request failed, retrying", zap.Error(err))
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
			return backoff.Permanent(fmt.Errorf("sms API returned %d", resp.StatusCode))
		default:
			return fmt.Errorf("sms API returned %d", resp.StatusCode)
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
