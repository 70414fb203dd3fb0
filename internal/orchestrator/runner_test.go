// File: internal/orchestrator/runner_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/captcha"
	"github.com/xkilldash9x/autosign-cli/internal/interpreter"
	"github.com/xkilldash9x/autosign-cli/internal/platform"
	"github.com/xkilldash9x/autosign-cli/internal/verification"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type driverStep struct {
	result schemas.DriverResult
	err    error
}

// fakeDriver pops one scripted step per Execute/Resume call.
type fakeDriver struct {
	mu           sync.Mutex
	executeSteps []driverStep
	resumeSteps  []driverStep
	executeCalls []string // instructions, in call order
	resumeCalls  []string // solutions, in call order
}

func (d *fakeDriver) Execute(_ context.Context, instruction, _ string, _ schemas.Credentials) (schemas.DriverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executeCalls = append(d.executeCalls, instruction)
	if len(d.executeSteps) == 0 {
		return schemas.DriverResult{Outcome: schemas.DriverCompleted}, nil
	}
	step := d.executeSteps[0]
	d.executeSteps = d.executeSteps[1:]
	return step.result, step.err
}

func (d *fakeDriver) Resume(_ context.Context, solution string) (schemas.DriverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumeCalls = append(d.resumeCalls, solution)
	if len(d.resumeSteps) == 0 {
		return schemas.DriverResult{Outcome: schemas.DriverCompleted}, nil
	}
	step := d.resumeSteps[0]
	d.resumeSteps = d.resumeSteps[1:]
	return step.result, step.err
}

func (d *fakeDriver) executeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.executeCalls)
}

func (d *fakeDriver) resumeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resumeCalls)
}

// fakeMessageStore returns a fixed batch on every poll.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []schemas.VerificationMessage
}

func (s *fakeMessageStore) ListMessages(context.Context, string, time.Time) ([]schemas.VerificationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.VerificationMessage(nil), s.messages...), nil
}

func (s *fakeMessageStore) ReserveRecipient(context.Context) (string, error) {
	return "codes@example.test", nil
}

const solvedToken = "solved-token"

// fakeCaptchaBackend is PENDING for pendingPolls polls, then terminal.
type fakeCaptchaBackend struct {
	mu           sync.Mutex
	pendingPolls int
	terminal     schemas.CaptchaStatus
	polls        int
}

func (f *fakeCaptchaBackend) Submit(context.Context, schemas.CaptchaDescriptor) (string, error) {
	return "challenge-1", nil
}

func (f *fakeCaptchaBackend) Poll(context.Context, string) (schemas.CaptchaStatus, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.pendingPolls {
		return schemas.CaptchaPending, "", nil
	}
	if f.terminal == schemas.CaptchaSolved {
		return schemas.CaptchaSolved, solvedToken, nil
	}
	return f.terminal, "", nil
}

// recordingRunStore captures persisted runs.
type recordingRunStore struct {
	mu   sync.Mutex
	runs []*schemas.SignupRun
}

func (s *recordingRunStore) PersistRun(_ context.Context, run *schemas.SignupRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *recordingRunStore) persisted() []*schemas.SignupRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schemas.SignupRun(nil), s.runs...)
}

// -- Harness --

type harness struct {
	driver   *fakeDriver
	inbox    *fakeMessageStore
	backend  *fakeCaptchaBackend
	runStore *recordingRunStore
	runner   *Runner
}

func newHarness(t *testing.T, withSMS bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		driver:   &fakeDriver{},
		inbox:    &fakeMessageStore{},
		backend:  &fakeCaptchaBackend{terminal: schemas.CaptchaSolved},
		runStore: &recordingRunStore{},
	}

	email := verification.NewChannel(h.inbox, logger)
	var sms *verification.Channel
	if withSMS {
		sms = verification.NewChannel(&fakeMessageStore{}, logger)
	}

	h.runner = NewRunner(
		interpreter.New(platform.NewRegistry(), logger),
		h.driver,
		email, sms,
		captcha.NewResolver(h.backend, 10*time.Millisecond, logger),
		h.runStore,
		Timings{
			VerificationTimeout: 500 * time.Millisecond,
			VerificationPoll:    10 * time.Millisecond,
			CaptchaTimeout:      200 * time.Millisecond,
		},
		logger,
	)
	return h
}

func (h *harness) deliverCode(content string) {
	h.inbox.mu.Lock()
	defer h.inbox.mu.Unlock()
	h.inbox.messages = append(h.inbox.messages, schemas.VerificationMessage{
		ID:         "m1",
		Recipient:  "codes@example.test",
		Subject:    "verify your account",
		ReceivedAt: time.Now().Add(time.Second),
		RawContent: content,
	})
}

// -- Scenarios --

func TestRun_HappyPathEmailVerification(t *testing.T) {
	h := newHarness(t, false)
	h.deliverCode("Your verification code is 482913")

	run, err := h.runner.Run(context.Background(), "sign up for dev.to")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateSucceeded, run.State)
	assert.Equal(t, schemas.PlatformDevTo, run.Request.Profile.ID)
	assert.Equal(t, "482913", run.Code)
	assert.Equal(t, "codes@example.test", run.Credentials.Recipient)
	assert.NotEmpty(t, run.Credentials.Username)
	assert.NotEmpty(t, run.Credentials.Password)
	assert.Nil(t, run.Failure)
	assert.False(t, run.EndedAt.IsZero())

	// One signup invocation, one code submission.
	require.Equal(t, 2, h.driver.executeCount())
	assert.Contains(t, h.driver.executeCalls[1], "482913", "code submission carries the extracted code")

	persisted := h.runStore.persisted()
	require.Len(t, persisted, 1)
	assert.Equal(t, schemas.StateSucceeded, persisted[0].State)
}

func TestRun_UnresolvedCommand(t *testing.T) {
	h := newHarness(t, false)

	run, err := h.runner.Run(context.Background(), "sign up for whatever that thing was")
	require.Error(t, err)

	assert.Equal(t, schemas.StateFailed, run.State)
	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailUnresolvedTarget, run.Failure.Kind)
	assert.Equal(t, schemas.StateInterpreting, run.Failure.State)
	assert.Zero(t, h.driver.executeCount(), "driver must not start for an unresolved command")
	require.Len(t, h.runStore.persisted(), 1, "failed runs are persisted too")
}

func TestRun_SMSPlatformWithoutSMSChannel(t *testing.T) {
	h := newHarness(t, false)

	run, err := h.runner.Run(context.Background(), "sign up for discord")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailConfiguration, run.Failure.Kind)
	assert.Equal(t, schemas.StateConfiguring, run.Failure.State)
	assert.Zero(t, h.driver.executeCount())
}

func TestRun_SignupRetriedExactlyOnce(t *testing.T) {
	h := newHarness(t, false)
	h.driver.executeSteps = []driverStep{
		{result: schemas.DriverResult{Outcome: schemas.DriverFailed, Reason: "form rejected"}},
		{result: schemas.DriverResult{Outcome: schemas.DriverFailed, Reason: "form rejected again"}},
		// Would succeed on a third attempt, which must never happen.
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}},
	}

	run, err := h.runner.Run(context.Background(), "sign up for reddit")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailSignupAutomation, run.Failure.Kind)
	assert.Equal(t, schemas.StateSigningUp, run.Failure.State)
	assert.Equal(t, 2, h.driver.executeCount(), "exactly one retry after the first failure")
}

func TestRun_SignupRecoversOnRetry(t *testing.T) {
	h := newHarness(t, false)
	h.deliverCode("123456 is your one-time PIN")
	h.driver.executeSteps = []driverStep{
		{result: schemas.DriverResult{Outcome: schemas.DriverFailed, Reason: "transient page error"}},
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}},
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}}, // code submission
	}

	run, err := h.runner.Run(context.Background(), "sign up for reddit")
	require.NoError(t, err)
	assert.Equal(t, schemas.StateSucceeded, run.State)
	assert.Equal(t, "123456", run.Code)
	assert.Equal(t, 3, h.driver.executeCount())
}

func TestRun_CaptchaSolvedAndResumed(t *testing.T) {
	h := newHarness(t, false)
	h.deliverCode("Your verification code is 482913")
	h.backend.pendingPolls = 2
	h.driver.executeSteps = []driverStep{
		{result: schemas.DriverResult{
			Outcome:   schemas.DriverCaptchaEncountered,
			Challenge: &schemas.CaptchaDescriptor{SiteKey: "sk", PageURL: "https://example.com", Provider: "recaptcha"},
		}},
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}}, // code submission
	}
	h.driver.resumeSteps = []driverStep{
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}},
	}

	run, err := h.runner.Run(context.Background(), "sign up for github")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateSucceeded, run.State)
	require.Equal(t, 1, h.driver.resumeCount())
	assert.Equal(t, solvedToken, h.driver.resumeCalls[0], "resume receives the backend's solution")
	require.NotNil(t, run.Captcha)
	assert.Equal(t, schemas.CaptchaSolved, run.Captcha.Status)
	assert.Equal(t, solvedToken, run.Captcha.Solution)
}

func TestRun_CaptchaTimeoutFailsWithoutResume(t *testing.T) {
	h := newHarness(t, false)
	h.backend.pendingPolls = 1 << 30 // never resolves
	h.driver.executeSteps = []driverStep{
		{result: schemas.DriverResult{
			Outcome:   schemas.DriverCaptchaEncountered,
			Challenge: &schemas.CaptchaDescriptor{SiteKey: "sk", PageURL: "https://example.com"},
		}},
	}

	run, err := h.runner.Run(context.Background(), "sign up for github")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailCaptchaTimeout, run.Failure.Kind)
	assert.Equal(t, schemas.StateAwaitingCaptcha, run.Failure.State)
	assert.Zero(t, h.driver.resumeCount(), "no solution, nothing to resume")
	assert.Equal(t, 1, h.driver.executeCount(), "captcha timeout must not trigger a signup retry")
}

func TestRun_VerificationTimeout(t *testing.T) {
	h := newHarness(t, false)
	// Inbox stays empty.

	run, err := h.runner.Run(context.Background(), "sign up for github")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailVerificationTimeout, run.Failure.Kind)
	assert.Equal(t, schemas.StateAwaitingVerification, run.Failure.State)
	assert.Equal(t, 1, h.driver.executeCount(), "code submission must not run without a code")
}

func TestRun_VerificationSubmissionNotRetried(t *testing.T) {
	h := newHarness(t, false)
	h.deliverCode("Your verification code is 482913")
	h.driver.executeSteps = []driverStep{
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}},
		{result: schemas.DriverResult{Outcome: schemas.DriverFailed, Reason: "code rejected"}},
		{result: schemas.DriverResult{Outcome: schemas.DriverCompleted}}, // must never be reached
	}

	run, err := h.runner.Run(context.Background(), "sign up for github")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailVerificationSubmission, run.Failure.Kind)
	assert.Equal(t, schemas.StateCompleting, run.Failure.State)
	assert.Equal(t, 2, h.driver.executeCount(), "submission is one-shot")
}

func TestRun_CancellationMapsToCancelled(t *testing.T) {
	h := newHarness(t, false)
	// Inbox stays empty so the run blocks in AWAITING_VERIFICATION.

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	run, err := h.runner.Run(ctx, "sign up for github")
	require.Error(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, schemas.FailCancelled, run.Failure.Kind)
	assert.Equal(t, schemas.StateAwaitingVerification, run.Failure.State)
	require.Len(t, h.runStore.persisted(), 1, "cancelled runs still get persisted")
}

func TestChannelFor(t *testing.T) {
	h := newHarness(t, true)

	email, err := h.runner.channelFor(schemas.ChannelEmail)
	require.NoError(t, err)
	assert.NotNil(t, email)

	sms, err := h.runner.channelFor(schemas.ChannelSMS)
	require.NoError(t, err)
	assert.NotNil(t, sms)

	none, err := h.runner.channelFor(schemas.ChannelNone)
	require.NoError(t, err)
	assert.Nil(t, none, "NONE platforms skip the verification wait entirely")

	_, err = h.runner.channelFor(schemas.VerificationChannelKind("CARRIER_PIGEON"))
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrConfiguration)
}
