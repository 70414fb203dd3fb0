// File: internal/verification/channel.go
// Description: The verification channel polls an upstream message store for a
// code addressed to one recipient. It is the only blocking wait on the email
// or SMS side of a run, and it must be promptly cancellable.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// Channel wraps one message store (email inbox or SMS log). Stores are safe
// for concurrent use, so one Channel may serve many runs; all per-wait state
// lives inside AwaitCode.
type Channel struct {
	store  schemas.MessageStore
	logger *zap.Logger
}

// NewChannel creates a Channel over the given store.
func NewChannel(store schemas.MessageStore, logger *zap.Logger) *Channel {
	return &Channel{
		store:  store,
		logger: logger.Named("verification"),
	}
}

// Store exposes the underlying message store, used by the orchestrator to
// reserve a recipient during CONFIGURING.
func (c *Channel) Store() schemas.MessageStore { return c.store }

// AwaitCode blocks until a message addressed to recipient and received after
// since yields a verification code, or until timeout elapses. Messages whose
// extraction fails are marked consumed and never revisited; polling continues
// past them since platforms often send a welcome mail before the code.
//
// The wait is a single cooperative loop: cancellation of ctx aborts promptly
// with ErrCancelled, the wall-clock timeout yields ErrVerificationTimeout.
func (c *Channel) AwaitCode(ctx context.Context, recipient string, since time.Time, timeout, pollInterval time.Duration, lengthHint int) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.logger.With(zap.String("recipient", recipient))
	log.Info("Waiting for verification code",
		zap.Duration("timeout", timeout),
		zap.Duration("poll_interval", pollInterval),
	)

	consumed := make(map[string]bool)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		code, found := c.checkOnce(waitCtx, log, recipient, since, lengthHint, consumed)
		if found {
			return code, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				// The caller went away; this is not a verification verdict.
				return "", fmt.Errorf("%w: verification wait aborted", schemas.ErrCancelled)
			}
			return "", fmt.Errorf("%w: recipient %s, waited %s", schemas.ErrVerificationTimeout, recipient, timeout)
		case <-ticker.C:
		}
	}
}

// checkOnce queries the store and runs extraction over any new messages,
// newest first. Returns the first extractable code.
func (c *Channel) checkOnce(ctx context.Context, log *zap.Logger, recipient string, since time.Time, lengthHint int, consumed map[string]bool) (string, bool) {
	messages, err := c.store.ListMessages(ctx, recipient, since)
	if err != nil {
		// Upstream reads are idempotent; a transient listing failure just
		// means we try again on the next tick.
		if ctx.Err() == nil {
			log.Warn("Failed to list messages, will retry", zap.Error(err))
		}
		return "", false
	}

	for _, msg := range messages {
		if consumed[msg.ID] {
			continue
		}
		consumed[msg.ID] = true

		code, err := ExtractCode(msg.RawContent, lengthHint)
		if err != nil {
			if errors.Is(err, schemas.ErrCodeNotFound) {
				// Absorbed: a non-code message (welcome mail, receipt) is
				// expected traffic, not a run failure.
				log.Debug("Message yielded no code, continuing to poll",
					zap.String("message_id", msg.ID),
					zap.String("subject", msg.Subject),
				)
				continue
			}
			log.Warn("Extraction error on message", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}

		log.Info("Verification code extracted",
			zap.String("message_id", msg.ID),
			zap.Int("code_length", len(code)),
		)
		return code, true
	}
	return "", false
}
