// File: api/schemas/signup.go
// Description: Shared data model for the signup orchestration engine. These types
// cross package boundaries (interpreter -> registry -> orchestrator -> driver),
// so they live here rather than inside any single component.
package schemas

import (
	"time"
)

// PlatformID identifies a built-in platform profile in the registry.
type PlatformID string

// Well-known platform identifiers. Custom targets resolved from a bare URL use
// PlatformCustom and carry a synthesized profile.
const (
	PlatformGitHub        PlatformID = "github"
	PlatformReddit        PlatformID = "reddit"
	PlatformTwitter       PlatformID = "twitter"
	PlatformDiscord       PlatformID = "discord"
	PlatformDevTo         PlatformID = "dev.to"
	PlatformStackOverflow PlatformID = "stackoverflow"
	PlatformCustom        PlatformID = "custom"
)

// VerificationChannelKind selects how a platform delivers its verification code.
type VerificationChannelKind string

const (
	ChannelEmail VerificationChannelKind = "EMAIL"
	ChannelSMS   VerificationChannelKind = "SMS"
	ChannelNone  VerificationChannelKind = "NONE"
)

// PlatformProfile is the static description of how to sign up for one website.
// Profiles are loaded once at process start and are read-only for the lifetime
// of a run.
type PlatformProfile struct {
	ID PlatformID `json:"id"`
	// SignupURL is the page the automation driver is pointed at.
	SignupURL string `json:"signup_url"`
	// SignupInstruction is the natural-language task template handed to the
	// automation driver for the form-filling phase.
	SignupInstruction string `json:"signup_instruction"`
	// VerificationInstruction is the task template for the code-entry phase.
	VerificationInstruction string                  `json:"verification_instruction"`
	Channel                 VerificationChannelKind `json:"verification_channel"`
	// CodeLengthHint is the expected verification code length, 0 when unknown.
	CodeLengthHint int `json:"code_length_hint,omitempty"`
}

// SignupRequest is the resolved form of a free-text signup command. It is
// immutable once produced by the interpreter.
type SignupRequest struct {
	RawCommand string `json:"raw_command"`
	// Profile is the resolved platform profile, either a registry entry or a
	// profile synthesized for a bare URL.
	Profile PlatformProfile `json:"profile"`
}

// Credentials is the generated identity for one run. The orchestrator owns the
// only mutable reference; collaborators receive it by value.
type Credentials struct {
	// Recipient is the reserved email address or phone number, depending on
	// the platform's verification channel.
	Recipient string `json:"recipient"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// VerificationMessage is one message observed in the upstream store. A message
// is one-shot: once its code is consumed (or extraction has failed), the
// channel never revisits it.
type VerificationMessage struct {
	ID         string    `json:"id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	RawContent string    `json:"raw_content"`
}

// CaptchaStatus is the backend-reported lifecycle state of a challenge.
// SOLVED, FAILED and EXPIRED are terminal; a challenge never transitions out
// of them.
type CaptchaStatus string

const (
	CaptchaPending CaptchaStatus = "PENDING"
	CaptchaSolved  CaptchaStatus = "SOLVED"
	CaptchaFailed  CaptchaStatus = "FAILED"
	CaptchaExpired CaptchaStatus = "EXPIRED"
)

// CaptchaDescriptor identifies a challenge on a page, as reported by the
// automation driver when it runs into one.
type CaptchaDescriptor struct {
	SiteKey string `json:"site_key"`
	PageURL string `json:"page_url"`
	// Provider is a hint such as "recaptcha" or "hcaptcha".
	Provider string `json:"provider,omitempty"`
}

// CaptchaChallenge tracks one submitted challenge through its backend lifecycle.
type CaptchaChallenge struct {
	ChallengeID string            `json:"challenge_id"`
	Descriptor  CaptchaDescriptor `json:"descriptor"`
	Status      CaptchaStatus     `json:"status"`
	Solution    string            `json:"solution,omitempty"`
}

// RunState is the orchestrator's position in the signup state machine.
type RunState string

const (
	StateInterpreting         RunState = "INTERPRETING"
	StateConfiguring          RunState = "CONFIGURING"
	StateSigningUp            RunState = "SIGNING_UP"
	StateAwaitingCaptcha      RunState = "AWAITING_CAPTCHA"
	StateAwaitingVerification RunState = "AWAITING_VERIFICATION"
	StateCompleting           RunState = "COMPLETING"
	StateSucceeded            RunState = "SUCCEEDED"
	StateFailed               RunState = "FAILED"
)

// Terminal reports whether the state machine can leave this state. A run is
// discarded once it reaches a terminal state, never resumed.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// SignupRun is the aggregate record of one end-to-end attempt. It owns one
// request, one set of credentials, at most one captcha challenge and at most
// one verification message.
type SignupRun struct {
	ID          string            `json:"id"`
	Request     SignupRequest     `json:"request"`
	Credentials Credentials       `json:"credentials"`
	Captcha     *CaptchaChallenge `json:"captcha,omitempty"`
	// Code is the verification code that completed the run, when one was used.
	Code      string    `json:"code,omitempty"`
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	// Failure is set iff State == StateFailed.
	Failure *RunFailure `json:"failure,omitempty"`
}

// DriverOutcome is the automation driver's report for one invocation.
type DriverOutcome string

const (
	DriverCompleted          DriverOutcome = "COMPLETED"
	DriverCaptchaEncountered DriverOutcome = "CAPTCHA_ENCOUNTERED"
	DriverFailed             DriverOutcome = "FAILED"
)

// DriverResult carries the outcome of a driver invocation. Challenge is set
// only for CAPTCHA_ENCOUNTERED, Reason only for FAILED.
type DriverResult struct {
	Outcome   DriverOutcome      `json:"outcome"`
	Challenge *CaptchaDescriptor `json:"challenge,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}
