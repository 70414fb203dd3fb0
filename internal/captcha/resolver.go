// File: internal/captcha/resolver.go
// Description: The resolver owns the solving backend's queued/polling
// lifecycle: submit once, poll at a fixed interval, stop on a terminal status
// or the solve timeout. It never resubmits; that is the orchestrator's call.
package captcha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// Resolver drives one challenge at a time through the backend.
type Resolver struct {
	backend      schemas.CaptchaBackend
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewResolver creates a Resolver polling at the given fixed interval.
func NewResolver(backend schemas.CaptchaBackend, pollInterval time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		backend:      backend,
		pollInterval: pollInterval,
		logger:       logger.Named("captcha"),
	}
}

// Solve submits the descriptor and polls until the challenge resolves or
// timeout elapses. The returned challenge always reflects the last known
// backend state; on ErrCaptchaTimeout it is still PENDING and the caller may
// poll it once more via PollOnce, since the backend can finish after we stop
// waiting.
func (r *Resolver) Solve(ctx context.Context, desc schemas.CaptchaDescriptor, timeout time.Duration) (*schemas.CaptchaChallenge, error) {
	challengeID, err := r.backend.Submit(ctx, desc)
	if err != nil {
		return nil, err
	}

	challenge := &schemas.CaptchaChallenge{
		ChallengeID: challengeID,
		Descriptor:  desc,
		Status:      schemas.CaptchaPending,
	}

	solveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := r.logger.With(zap.String("challenge_id", challengeID))
	log.Info("Polling for solution",
		zap.Duration("timeout", timeout),
		zap.Duration("poll_interval", r.pollInterval),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-solveCtx.Done():
			if ctx.Err() != nil {
				return challenge, fmt.Errorf("%w: captcha wait aborted", schemas.ErrCancelled)
			}
			log.Warn("Solve timed out; challenge may still resolve server-side")
			return challenge, fmt.Errorf("%w: challenge %s after %s", schemas.ErrCaptchaTimeout, challengeID, timeout)
		case <-ticker.C:
		}

		done, err := r.PollOnce(solveCtx, challenge)
		if err != nil {
			if solveCtx.Err() != nil {
				// Let the select above classify timeout vs cancellation.
				continue
			}
			// Transient poll failure: keep the loop alive, the next tick
			// queries again.
			log.Warn("Poll attempt failed, will retry", zap.Error(err))
			continue
		}
		if !done {
			continue
		}

		switch challenge.Status {
		case schemas.CaptchaSolved:
			log.Info("Challenge solved")
			return challenge, nil
		case schemas.CaptchaExpired:
			return challenge, fmt.Errorf("%w: challenge %s expired server-side", schemas.ErrCaptchaSolveFailed, challengeID)
		default:
			return challenge, fmt.Errorf("%w: challenge %s", schemas.ErrCaptchaSolveFailed, challengeID)
		}
	}
}

// PollOnce queries the backend a single time and folds the result into the
// challenge. Returns true when the challenge reached a terminal status.
// Terminal statuses are final: once SOLVED, FAILED or EXPIRED is recorded the
// challenge is never polled again.
func (r *Resolver) PollOnce(ctx context.Context, challenge *schemas.CaptchaChallenge) (bool, error) {
	if challenge.Status != schemas.CaptchaPending {
		return true, nil
	}

	status, solution, err := r.backend.Poll(ctx, challenge.ChallengeID)
	if err != nil {
		return false, err
	}

	challenge.Status = status
	if status == schemas.CaptchaSolved {
		challenge.Solution = solution
	}
	return status != schemas.CaptchaPending, nil
}
