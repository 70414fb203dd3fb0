// File: internal/interpreter/interpreter_test.go
package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/platform"
)

func newTestInterpreter(t *testing.T) *Interpreter {
	t.Helper()
	return New(platform.NewRegistry(), zaptest.NewLogger(t))
}

func TestResolve_BuiltinPlatforms(t *testing.T) {
	interp := newTestInterpreter(t)

	testCases := []struct {
		command string
		want    schemas.PlatformID
	}{
		{"sign up for github", schemas.PlatformGitHub},
		{"Sign Up For GitHub please", schemas.PlatformGitHub},
		{"create a reddit account", schemas.PlatformReddit},
		{"register on twitter", schemas.PlatformTwitter},
		{"make me a discord account", schemas.PlatformDiscord},
		{"sign up for dev.to", schemas.PlatformDevTo},
		{"sign up for stack overflow", schemas.PlatformStackOverflow},
		{"sign up for stackoverflow", schemas.PlatformStackOverflow},
	}

	for _, tc := range testCases {
		t.Run(tc.command, func(t *testing.T) {
			req, err := interp.Resolve(tc.command)
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.Profile.ID)
			assert.Equal(t, tc.command, req.RawCommand)
			assert.NotEmpty(t, req.Profile.SignupURL)
			assert.NotEmpty(t, req.Profile.SignupInstruction)
		})
	}
}

func TestResolve_PlatformNameWinsOverURL(t *testing.T) {
	interp := newTestInterpreter(t)

	// A command naming a known platform resolves to the registry profile even
	// when it also contains a URL.
	req, err := interp.Resolve("sign up for reddit at https://old.reddit.com/register")
	require.NoError(t, err)
	assert.Equal(t, schemas.PlatformReddit, req.Profile.ID)
}

func TestResolve_CustomURL(t *testing.T) {
	interp := newTestInterpreter(t)

	testCases := []struct {
		name    string
		command string
		wantURL string
	}{
		{"explicit scheme", "sign up at https://forum.example.com/join", "https://forum.example.com/join"},
		{"scheme-less host", "create an account on example.com", "https://example.com"},
		{"host with path", "register at example.org/signup", "https://example.org/signup"},
		{"trailing punctuation", "sign me up at example.net.", "https://example.net"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := interp.Resolve(tc.command)
			require.NoError(t, err)
			assert.Equal(t, schemas.PlatformCustom, req.Profile.ID)
			assert.Equal(t, tc.wantURL, req.Profile.SignupURL)
			assert.Equal(t, schemas.ChannelEmail, req.Profile.Channel)
		})
	}
}

func TestResolve_Unresolved(t *testing.T) {
	interp := newTestInterpreter(t)

	for _, command := range []string{
		"sign up for something",
		"make me an account",
		"",
		"just words without any target here",
	} {
		t.Run(command, func(t *testing.T) {
			_, err := interp.Resolve(command)
			require.Error(t, err)
			assert.ErrorIs(t, err, schemas.ErrUnresolvedTarget)
			assert.Equal(t, schemas.FailUnresolvedTarget, schemas.ClassifyFailure(err))
		})
	}
}
