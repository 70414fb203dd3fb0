// File: internal/captcha/backend_test.go
package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/config"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewBackend(config.CaptchaConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, zaptest.NewLogger(t))
}

func TestBackend_Submit(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/in.php", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "userrecaptcha", r.URL.Query().Get("method"))
		assert.Equal(t, "site-key-1", r.URL.Query().Get("googlekey"))
		assert.Equal(t, "https://example.com/signup", r.URL.Query().Get("pageurl"))
		w.Write([]byte(`{"status":1,"request":"challenge-42"}`))
	})

	id, err := backend.Submit(context.Background(), schemas.CaptchaDescriptor{
		SiteKey:  "site-key-1",
		PageURL:  "https://example.com/signup",
		Provider: "recaptcha",
	})
	require.NoError(t, err)
	assert.Equal(t, "challenge-42", id)
}

func TestBackend_SubmitHCaptchaMethod(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hcaptcha", r.URL.Query().Get("method"))
		w.Write([]byte(`{"status":1,"request":"challenge-h"}`))
	})

	id, err := backend.Submit(context.Background(), schemas.CaptchaDescriptor{
		SiteKey: "hk", PageURL: "https://example.com", Provider: "hcaptcha",
	})
	require.NoError(t, err)
	assert.Equal(t, "challenge-h", id)
}

func TestBackend_SubmitRejected(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"request":"ERROR_WRONG_USER_KEY"}`))
	})

	_, err := backend.Submit(context.Background(), schemas.CaptchaDescriptor{
		SiteKey: "k", PageURL: "https://example.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrCaptchaSolveFailed)
}

func TestBackend_SubmitWithoutAPIKey(t *testing.T) {
	backend := NewBackend(config.CaptchaConfig{BaseURL: "http://unused"}, zaptest.NewLogger(t))

	_, err := backend.Submit(context.Background(), schemas.CaptchaDescriptor{SiteKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrConfiguration)
}

func TestBackend_Poll(t *testing.T) {
	testCases := []struct {
		name         string
		body         string
		wantStatus   schemas.CaptchaStatus
		wantSolution string
	}{
		{"solved", `{"status":1,"request":"solution-token"}`, schemas.CaptchaSolved, "solution-token"},
		{"pending", `{"status":0,"request":"CAPCHA_NOT_READY"}`, schemas.CaptchaPending, ""},
		{"expired", `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE_TIMEOUT"}`, schemas.CaptchaExpired, ""},
		{"failed", `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`, schemas.CaptchaFailed, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/res.php", r.URL.Path)
				assert.Equal(t, "get", r.URL.Query().Get("action"))
				assert.Equal(t, "challenge-42", r.URL.Query().Get("id"))
				w.Write([]byte(tc.body))
			})

			status, solution, err := backend.Poll(context.Background(), "challenge-42")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantSolution, solution)
		})
	}
}
