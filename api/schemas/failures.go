// File: api/schemas/failures.go
package schemas

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a run reached FAILED. The kinds are deliberately
// specific: "CAPTCHA timed out" and "code never arrived" demand different
// operator actions, so they must never collapse into a generic error.
type FailureKind string

const (
	FailUnresolvedTarget       FailureKind = "UNRESOLVED_TARGET"
	FailUnknownPlatform        FailureKind = "UNKNOWN_PLATFORM"
	FailConfiguration          FailureKind = "CONFIGURATION"
	FailSignupAutomation       FailureKind = "SIGNUP_AUTOMATION"
	FailCaptchaSolveFailed     FailureKind = "CAPTCHA_SOLVE_FAILED"
	FailCaptchaTimeout         FailureKind = "CAPTCHA_TIMEOUT"
	FailCodeNotFound           FailureKind = "CODE_NOT_FOUND"
	FailVerificationTimeout    FailureKind = "VERIFICATION_TIMEOUT"
	FailVerificationSubmission FailureKind = "VERIFICATION_SUBMISSION"
	FailCancelled              FailureKind = "CANCELLED"
)

// Sentinel errors for the taxonomy. Component packages return these (wrapped);
// the orchestrator maps them onto the run's terminal failure record.
var (
	ErrUnresolvedTarget       = errors.New("no known platform name or URL in command")
	ErrUnknownPlatform        = errors.New("platform is not registered")
	ErrConfiguration          = errors.New("configuration incomplete")
	ErrSignupAutomation       = errors.New("signup automation failed")
	ErrCaptchaSolveFailed     = errors.New("captcha backend reported failure")
	ErrCaptchaTimeout         = errors.New("captcha solve timed out")
	ErrCodeNotFound           = errors.New("no code-shaped token in message")
	ErrVerificationTimeout    = errors.New("no verification code arrived in time")
	ErrVerificationSubmission = errors.New("verification code submission failed")
	ErrCancelled              = errors.New("run cancelled")
)

// kindSentinels orders the mapping used by ClassifyFailure.
var kindSentinels = []struct {
	kind FailureKind
	err  error
}{
	{FailUnresolvedTarget, ErrUnresolvedTarget},
	{FailUnknownPlatform, ErrUnknownPlatform},
	{FailConfiguration, ErrConfiguration},
	{FailSignupAutomation, ErrSignupAutomation},
	{FailCaptchaSolveFailed, ErrCaptchaSolveFailed},
	{FailCaptchaTimeout, ErrCaptchaTimeout},
	{FailCodeNotFound, ErrCodeNotFound},
	{FailVerificationTimeout, ErrVerificationTimeout},
	{FailVerificationSubmission, ErrVerificationSubmission},
	{FailCancelled, ErrCancelled},
}

// ClassifyFailure maps a wrapped sentinel onto its FailureKind. Unrecognized
// errors classify as SIGNUP_AUTOMATION, the broadest automation failure.
func ClassifyFailure(err error) FailureKind {
	for _, m := range kindSentinels {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return FailSignupAutomation
}

// RunFailure is the terminal failure record of a run: the kind plus the state
// the machine was in when the error surfaced.
type RunFailure struct {
	Kind  FailureKind `json:"kind"`
	State RunState    `json:"state"`
	// Cause is the underlying error chain, retained for wrapping but omitted
	// from serialized reports.
	Cause error `json:"-"`
	// Message preserves the cause for serialized run reports.
	Message string `json:"message"`
}

// Error implements the error interface.
func (f *RunFailure) Error() string {
	return fmt.Sprintf("run failed in state %s: %s: %s", f.State, f.Kind, f.Message)
}

// Unwrap exposes the cause so errors.Is still matches the sentinel.
func (f *RunFailure) Unwrap() error { return f.Cause }

// NewRunFailure builds the terminal failure record for a run.
func NewRunFailure(state RunState, err error) *RunFailure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &RunFailure{
		Kind:    ClassifyFailure(err),
		State:   state,
		Cause:   err,
		Message: msg,
	}
}
