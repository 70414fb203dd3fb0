// File: internal/captcha/backend.go
// Description: HTTP client for the third-party CAPTCHA solving service
// (2Captcha-compatible submit/poll API). Implements schemas.CaptchaBackend.
package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/config"
)

const requestTimeout = 20 * time.Second

// notReadyMarker is the backend's "still solving" poll response.
const notReadyMarker = "CAPCHA_NOT_READY"

// expiredMarker is returned when the challenge aged out server-side.
const expiredMarker = "ERROR_CAPTCHA_UNSOLVABLE_TIMEOUT"

// Backend is the solving-service client. One instance is shared by all runs.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBackend builds a solving-service client from configuration.
func NewBackend(cfg config.CaptchaConfig, logger *zap.Logger) *Backend {
	return &Backend{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.Named("captcha_backend"),
	}
}

// apiResponse is the backend's uniform JSON envelope.
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit sends a challenge descriptor and returns the backend's challenge id.
// Submission is not retried here beyond transport-level backoff; a fresh
// submission is a new challenge and that decision belongs to the orchestrator.
func (b *Backend) Submit(ctx context.Context, desc schemas.CaptchaDescriptor) (string, error) {
	if b.apiKey == "" {
		return "", fmt.Errorf("%w: captcha api key is not configured", schemas.ErrConfiguration)
	}

	method := "userrecaptcha"
	if desc.Provider == "hcaptcha" {
		method = "hcaptcha"
	}
	query := url.Values{}
	query.Set("key", b.apiKey)
	query.Set("method", method)
	query.Set("googlekey", desc.SiteKey)
	query.Set("sitekey", desc.SiteKey)
	query.Set("pageurl", desc.PageURL)
	query.Set("json", "1")

	resp, err := b.call(ctx, fmt.Sprintf("%s/in.php?%s", b.baseURL, query.Encode()))
	if err != nil {
		return "", fmt.Errorf("challenge submission failed: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("%w: backend rejected submission: %s", schemas.ErrCaptchaSolveFailed, resp.Request)
	}

	b.logger.Info("Challenge submitted",
		zap.String("challenge_id", resp.Request),
		zap.String("page_url", desc.PageURL),
	)
	return resp.Request, nil
}

// Poll reports the backend status of a challenge. The solution accompanies
// CaptchaSolved; FAILED and EXPIRED are terminal.
func (b *Backend) Poll(ctx context.Context, challengeID string) (schemas.CaptchaStatus, string, error) {
	query := url.Values{}
	query.Set("key", b.apiKey)
	query.Set("action", "get")
	query.Set("id", challengeID)
	query.Set("json", "1")

	resp, err := b.call(ctx, fmt.Sprintf("%s/res.php?%s", b.baseURL, query.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("challenge poll failed: %w", err)
	}

	switch {
	case resp.Status == 1:
		return schemas.CaptchaSolved, resp.Request, nil
	case resp.Request == notReadyMarker:
		return schemas.CaptchaPending, "", nil
	case resp.Request == expiredMarker:
		return schemas.CaptchaExpired, "", nil
	default:
		return schemas.CaptchaFailed, "", nil
	}
}

// call performs a GET against the backend with transport-level backoff.
func (b *Backend) call(ctx context.Context, endpoint string) (*apiResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var out apiResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("captcha API returned %d", resp.StatusCode)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode captcha response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return &out, nil
}
