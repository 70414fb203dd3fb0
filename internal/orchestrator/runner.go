// File: internal/orchestrator/runner.go
// Description: The runner owns the signup state machine. Every run walks
// INTERPRETING -> CONFIGURING -> SIGNING_UP (optionally via AWAITING_CAPTCHA)
// -> AWAITING_VERIFICATION -> COMPLETING and ends in SUCCEEDED or FAILED.
// Runs are one-shot: a terminal run is persisted and discarded, never resumed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/captcha"
	"github.com/xkilldash9x/autosign-cli/internal/interpreter"
	"github.com/xkilldash9x/autosign-cli/internal/verification"
)

// maxSignupAttempts bounds the form-filling phase: the first attempt plus one
// retry. Verification submission is never retried, a platform may have
// invalidated the code on the failed attempt.
const maxSignupAttempts = 2

// Timings groups the intervals and deadlines a run operates under.
type Timings struct {
	VerificationTimeout time.Duration
	VerificationPoll    time.Duration
	CaptchaTimeout      time.Duration
}

// Runner executes signup runs end to end.
type Runner struct {
	interp   *interpreter.Interpreter
	driver   schemas.AutomationDriver
	email    *verification.Channel
	sms      *verification.Channel // nil when SMS credentials are not configured
	resolver *captcha.Resolver
	store    schemas.RunStore
	timings  Timings
	logger   *zap.Logger
}

// NewRunner wires a runner. sms may be nil; runs against SMS-verified
// platforms then fail in CONFIGURING rather than mid-flow.
func NewRunner(
	interp *interpreter.Interpreter,
	driver schemas.AutomationDriver,
	email, sms *verification.Channel,
	resolver *captcha.Resolver,
	store schemas.RunStore,
	timings Timings,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		interp:   interp,
		driver:   driver,
		email:    email,
		sms:      sms,
		resolver: resolver,
		store:    store,
		timings:  timings,
		logger:   logger.Named("orchestrator"),
	}
}

// Run takes a free-text command through the whole state machine. The returned
// run is always terminal; the error mirrors run.Failure for FAILED runs and
// is nil for SUCCEEDED ones.
func (r *Runner) Run(ctx context.Context, command string) (*schemas.SignupRun, error) {
	run := &schemas.SignupRun{
		ID:        uuid.New().String(),
		State:     schemas.StateInterpreting,
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With(zap.String("run_id", run.ID))

	defer r.persist(ctx, run, log)

	// INTERPRETING
	req, err := r.interp.Resolve(command)
	if err != nil {
		return run, r.fail(run, log, err)
	}
	run.Request = req
	log = log.With(zap.String("platform", string(req.Profile.ID)))

	// CONFIGURING
	r.transition(run, log, schemas.StateConfiguring)
	channel, err := r.channelFor(req.Profile.Channel)
	if err != nil {
		return run, r.fail(run, log, err)
	}

	recipient := ""
	if channel != nil {
		recipient, err = channel.Store().ReserveRecipient(ctx)
		if err != nil {
			return run, r.fail(run, log, fmt.Errorf("%w: could not reserve recipient: %v", schemas.ErrConfiguration, err))
		}
	}
	creds, err := newIdentity(recipient)
	if err != nil {
		return run, r.fail(run, log, fmt.Errorf("%w: %v", schemas.ErrConfiguration, err))
	}
	run.Credentials = creds
	log.Info("Run configured.",
		zap.String("username", creds.Username),
		zap.String("recipient", recipient),
		zap.String("channel", string(req.Profile.Channel)))

	// SIGNING_UP (+ AWAITING_CAPTCHA)
	r.transition(run, log, schemas.StateSigningUp)
	if err := r.signUp(ctx, run, log); err != nil {
		return run, r.fail(run, log, err)
	}

	// AWAITING_VERIFICATION + COMPLETING
	if channel != nil {
		r.transition(run, log, schemas.StateAwaitingVerification)
		code, err := channel.AwaitCode(ctx, recipient, run.StartedAt,
			r.timings.VerificationTimeout, r.timings.VerificationPoll,
			req.Profile.CodeLengthHint)
		if err != nil {
			return run, r.fail(run, log, err)
		}
		run.Code = code

		r.transition(run, log, schemas.StateCompleting)
		if err := r.submitCode(ctx, run); err != nil {
			return run, r.fail(run, log, err)
		}
	} else {
		// Platforms without a verification step complete on signup alone.
		r.transition(run, log, schemas.StateCompleting)
	}

	r.transition(run, log, schemas.StateSucceeded)
	run.EndedAt = time.Now().UTC()
	log.Info("Signup succeeded.", zap.String("username", run.Credentials.Username))
	return run, nil
}

// signUp drives the form-filling phase, pausing for at most one CAPTCHA per
// attempt and retrying at most once on a recoverable automation failure.
func (r *Runner) signUp(ctx context.Context, run *schemas.SignupRun, log *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= maxSignupAttempts; attempt++ {
		if attempt > 1 {
			log.Warn("Retrying signup attempt.", zap.Int("attempt", attempt), zap.Error(lastErr))
			run.State = schemas.StateSigningUp
		}

		result, err := r.driver.Execute(ctx,
			run.Request.Profile.SignupInstruction,
			run.Request.Profile.SignupURL,
			run.Credentials)
		if err == nil && result.Outcome == schemas.DriverCaptchaEncountered {
			result, err = r.resolveCaptcha(ctx, run, log, result.Challenge)
		}
		if err != nil {
			if !retryableSignupError(err) {
				return err
			}
			lastErr = err
			continue
		}

		switch result.Outcome {
		case schemas.DriverCompleted:
			return nil
		case schemas.DriverCaptchaEncountered:
			// A second wall inside one attempt; the platform is not letting
			// this session through.
			return fmt.Errorf("%w: captcha reappeared after solve", schemas.ErrCaptchaSolveFailed)
		default:
			lastErr = fmt.Errorf("%w: %s", schemas.ErrSignupAutomation, result.Reason)
		}
	}
	return lastErr
}

// resolveCaptcha runs the AWAITING_CAPTCHA detour: submit the challenge to
// the backend, wait for a solution, resume the paused browser flow. On a wait
// timeout the backend is polled one final time before giving up, since
// solutions regularly land just after the deadline.
func (r *Runner) resolveCaptcha(ctx context.Context, run *schemas.SignupRun, log *zap.Logger, desc *schemas.CaptchaDescriptor) (schemas.DriverResult, error) {
	r.transition(run, log, schemas.StateAwaitingCaptcha)

	challenge, err := r.resolver.Solve(ctx, *desc, r.timings.CaptchaTimeout)
	if challenge != nil {
		run.Captcha = challenge
	}
	if errors.Is(err, schemas.ErrCaptchaTimeout) {
		if done, pollErr := r.resolver.PollOnce(ctx, challenge); pollErr == nil && done && challenge.Status == schemas.CaptchaSolved {
			log.Info("Challenge resolved on final poll after timeout.")
			err = nil
		}
	}
	if err != nil {
		return schemas.DriverResult{}, err
	}

	run.State = schemas.StateSigningUp
	return r.driver.Resume(ctx, challenge.Solution)
}

// submitCode replays the browser flow for the code-entry phase. One shot:
// platforms tend to invalidate a code on a botched submission, so a failure
// here is never retried.
func (r *Runner) submitCode(ctx context.Context, run *schemas.SignupRun) error {
	instruction := fmt.Sprintf("%s\nThe verification code is: %s",
		run.Request.Profile.VerificationInstruction, run.Code)

	result, err := r.driver.Execute(ctx, instruction, run.Request.Profile.SignupURL, run.Credentials)
	if err != nil {
		if errors.Is(err, schemas.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", schemas.ErrVerificationSubmission, err)
	}
	if result.Outcome != schemas.DriverCompleted {
		return fmt.Errorf("%w: %s", schemas.ErrVerificationSubmission, result.Reason)
	}
	return nil
}

// channelFor maps a profile's channel to a wired verification channel. A nil
// channel (with nil error) means the platform needs no verification step.
func (r *Runner) channelFor(kind schemas.VerificationChannelKind) (*verification.Channel, error) {
	switch kind {
	case schemas.ChannelEmail:
		return r.email, nil
	case schemas.ChannelSMS:
		if r.sms == nil {
			return nil, fmt.Errorf("%w: platform requires SMS verification but no SMS channel is configured", schemas.ErrConfiguration)
		}
		return r.sms, nil
	case schemas.ChannelNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown verification channel %q", schemas.ErrConfiguration, kind)
	}
}

// retryableSignupError reports whether a second SIGNING_UP attempt makes
// sense. Cancellation and captcha verdicts are final; so is a configuration
// problem, which the retry cannot change.
func retryableSignupError(err error) bool {
	for _, sentinel := range []error{
		schemas.ErrCancelled,
		schemas.ErrCaptchaSolveFailed,
		schemas.ErrCaptchaTimeout,
		schemas.ErrConfiguration,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// fail stamps the run terminal. The failure records the state the run was in
// when the error surfaced, not the terminal FAILED state.
func (r *Runner) fail(run *schemas.SignupRun, log *zap.Logger, err error) error {
	failure := schemas.NewRunFailure(run.State, err)
	run.Failure = failure
	run.State = schemas.StateFailed
	run.EndedAt = time.Now().UTC()
	log.Error("Run failed.",
		zap.String("failed_in", string(failure.State)),
		zap.String("kind", string(failure.Kind)),
		zap.Error(err))
	return failure
}

func (r *Runner) transition(run *schemas.SignupRun, log *zap.Logger, next schemas.RunState) {
	log.Debug("State transition.",
		zap.String("from", string(run.State)),
		zap.String("to", string(next)))
	run.State = next
}

// persist records the terminal run. Persistence failures are logged, not
// surfaced; the run outcome already happened and must be reported as-is.
func (r *Runner) persist(ctx context.Context, run *schemas.SignupRun, log *zap.Logger) {
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	// The run context may already be cancelled; give persistence its own
	// short deadline.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.PersistRun(persistCtx, run); err != nil {
		log.Warn("Could not persist run record.", zap.Error(err))
	}
}
