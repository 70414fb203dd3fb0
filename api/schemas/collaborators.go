// File: api/schemas/collaborators.go
// Description: Contracts for the external collaborators the orchestration core
// depends on. The core never touches a browser, an inbox or a captcha backend
// directly; it is injected with these interfaces, which keeps it decoupled and
// testable.
package schemas

import (
	"context"
	"time"
)

// AutomationDriver is the AI-driven browser capability. Execute starts a fresh
// automation phase against a URL; Resume continues a phase that was suspended
// by a CAPTCHA, feeding it the solution token.
type AutomationDriver interface {
	Execute(ctx context.Context, instruction string, url string, creds Credentials) (DriverResult, error)
	Resume(ctx context.Context, solution string) (DriverResult, error)
}

// MessageStore is the upstream email inbox or SMS log. ListMessages returns
// messages addressed to recipient received after since, newest first, finite
// per call, safe to re-query. Implementations must be safe for concurrent use
// by independent runs.
type MessageStore interface {
	ListMessages(ctx context.Context, recipient string, since time.Time) ([]VerificationMessage, error)
	// ReserveRecipient allocates a fresh address or number owned by this
	// process for the lifetime of a run.
	ReserveRecipient(ctx context.Context) (string, error)
}

// CaptchaBackend is the third-party solving service: submit once, then poll.
type CaptchaBackend interface {
	Submit(ctx context.Context, desc CaptchaDescriptor) (challengeID string, err error)
	Poll(ctx context.Context, challengeID string) (CaptchaStatus, string, error)
}

// RunStore persists terminal runs. The orchestrator calls it exactly once per
// run, after the run reaches SUCCEEDED or FAILED.
type RunStore interface {
	PersistRun(ctx context.Context, run *SignupRun) error
}
