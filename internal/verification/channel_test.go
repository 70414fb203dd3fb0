// File: internal/verification/channel_test.go
package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// scriptedStore returns a fixed sequence of ListMessages results, one per
// call, then repeats the last entry.
type scriptedStore struct {
	mu      sync.Mutex
	batches [][]schemas.VerificationMessage
	errs    []error
	calls   int
}

func (s *scriptedStore) ListMessages(_ context.Context, _ string, _ time.Time) ([]schemas.VerificationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.batches) {
		idx = len(s.batches) - 1
	}
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return s.batches[idx], err
}

func (s *scriptedStore) ReserveRecipient(context.Context) (string, error) {
	return "codes@example.test", nil
}

func (s *scriptedStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func msg(id, content string, receivedAt time.Time) schemas.VerificationMessage {
	return schemas.VerificationMessage{
		ID:         id,
		Recipient:  "codes@example.test",
		Subject:    "test",
		ReceivedAt: receivedAt,
		RawContent: content,
	}
}

func TestAwaitCode_CodeOnLaterPoll(t *testing.T) {
	now := time.Now()
	store := &scriptedStore{batches: [][]schemas.VerificationMessage{
		{},
		{},
		{msg("m1", "Your verification code is 482913", now)},
	}}
	ch := NewChannel(store, zaptest.NewLogger(t))

	code, err := ch.AwaitCode(context.Background(), "codes@example.test", now.Add(-time.Minute),
		2*time.Second, 10*time.Millisecond, 6)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)
	assert.GreaterOrEqual(t, store.callCount(), 3)
}

func TestAwaitCode_SkipsNonCodeMessages(t *testing.T) {
	now := time.Now()
	store := &scriptedStore{batches: [][]schemas.VerificationMessage{
		{msg("welcome", "Welcome aboard, glad to have you!", now)},
		{
			msg("welcome", "Welcome aboard, glad to have you!", now),
			msg("code", "123456 is your one-time PIN", now.Add(time.Second)),
		},
	}}
	ch := NewChannel(store, zaptest.NewLogger(t))

	code, err := ch.AwaitCode(context.Background(), "codes@example.test", now.Add(-time.Minute),
		2*time.Second, 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)
}

func TestAwaitCode_Timeout(t *testing.T) {
	store := &scriptedStore{batches: [][]schemas.VerificationMessage{{}}}
	ch := NewChannel(store, zaptest.NewLogger(t))

	start := time.Now()
	_, err := ch.AwaitCode(context.Background(), "codes@example.test", start,
		80*time.Millisecond, 10*time.Millisecond, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrVerificationTimeout)
	assert.NotErrorIs(t, err, schemas.ErrCancelled)
	assert.Less(t, time.Since(start), time.Second, "timeout must be prompt")
}

func TestAwaitCode_CancellationIsNotTimeout(t *testing.T) {
	store := &scriptedStore{batches: [][]schemas.VerificationMessage{{}}}
	ch := NewChannel(store, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := ch.AwaitCode(ctx, "codes@example.test", time.Now(),
		5*time.Second, 10*time.Millisecond, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrCancelled)
	assert.NotErrorIs(t, err, schemas.ErrVerificationTimeout)
}

func TestAwaitCode_TransientListErrorsAreRetried(t *testing.T) {
	now := time.Now()
	store := &scriptedStore{
		batches: [][]schemas.VerificationMessage{
			nil,
			{msg("m1", "Your verification code is 774231", now)},
		},
		errs: []error{errors.New("upstream 503")},
	}
	ch := NewChannel(store, zaptest.NewLogger(t))

	code, err := ch.AwaitCode(context.Background(), "codes@example.test", now.Add(-time.Minute),
		2*time.Second, 10*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, "774231", code)
}
