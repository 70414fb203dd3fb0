// File: internal/browser/driver.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/config"
	"github.com/xkilldash9x/autosign-cli/internal/llmclient"
)

// AgentDriver drives a real browser through a signup flow. An LLM plans each
// step from a snapshot of the current page; the driver executes the plan over
// CDP. When a CAPTCHA wall is hit the session is kept alive so the flow can be
// resumed in place once a solution token is available.
type AgentDriver struct {
	cfg    config.BrowserConfig
	llm    llmclient.Client
	logger *zap.Logger

	mu   sync.Mutex
	sess *liveSession

	// Flow state carried across Execute -> Resume.
	instruction string
	creds       schemas.Credentials
}

var _ schemas.AutomationDriver = (*AgentDriver)(nil)

// liveSession bundles the chromedp contexts with the profile lock so teardown
// releases everything in one place.
type liveSession struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	lock        *sessionLock
}

func (s *liveSession) close() {
	if s == nil {
		return
	}
	s.cancelCtx()
	s.cancelAlloc()
	s.lock.release()
}

// NewAgentDriver creates a driver. The browser process is not started until
// Execute is called.
func NewAgentDriver(cfg config.BrowserConfig, llm llmclient.Client, logger *zap.Logger) *AgentDriver {
	return &AgentDriver{
		cfg:    cfg,
		llm:    llm,
		logger: logger.Named("agent_driver"),
	}
}

// Execute starts a browser session against the signup page and runs the agent
// loop until the flow completes, fails, or stalls on a CAPTCHA. The session
// stays open only in the CAPTCHA case.
func (d *AgentDriver) Execute(ctx context.Context, instruction, signupURL string, creds schemas.Credentials) (schemas.DriverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil {
		// A previous run left a session behind (e.g. an abandoned CAPTCHA).
		d.sess.close()
		d.sess = nil
	}

	sess, err := d.startSession(ctx)
	if err != nil {
		return schemas.DriverResult{}, fmt.Errorf("%w: %v", schemas.ErrSignupAutomation, err)
	}

	d.sess = sess
	d.instruction = instruction
	d.creds = creds

	navCtx, cancel := d.stepContextLocked(ctx, d.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(signupURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		d.teardownLocked()
		return schemas.DriverResult{}, fmt.Errorf("%w: navigation to %s failed: %v", schemas.ErrSignupAutomation, signupURL, err)
	}

	d.logger.Info("Signup session started.",
		zap.String("url", signupURL),
		zap.String("username", creds.Username))

	return d.runLoopLocked(ctx)
}

// Resume injects a CAPTCHA solution token into the live session and continues
// the agent loop from where Execute stalled.
func (d *AgentDriver) Resume(ctx context.Context, solution string) (schemas.DriverResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == nil {
		return schemas.DriverResult{}, fmt.Errorf("%w: no live session to resume", schemas.ErrSignupAutomation)
	}

	if err := d.injectSolutionLocked(ctx, solution); err != nil {
		d.teardownLocked()
		return schemas.DriverResult{}, fmt.Errorf("%w: could not inject captcha solution: %v", schemas.ErrSignupAutomation, err)
	}

	d.logger.Info("CAPTCHA solution injected, resuming flow.")
	return d.runLoopLocked(ctx)
}

// Close tears down any live session. Safe to call at any point.
func (d *AgentDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
}

func (d *AgentDriver) teardownLocked() {
	if d.sess != nil {
		d.sess.close()
		d.sess = nil
	}
}

// startSession locks the persistent profile and boots Chrome against it. The
// profile carries cookies across runs, which some platforms require before
// they will accept a verification code.
func (d *AgentDriver) startSession(ctx context.Context) (*liveSession, error) {
	profileDir, lock, err := acquireSession(d.cfg.ProfileDir)
	if err != nil {
		return nil, err
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(d.cfg.ViewportWidth, d.cfg.ViewportHeight),
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	for _, arg := range d.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		d.logger.Debug(fmt.Sprintf(format, args...))
	}))

	// Force the browser process up now so startup failures surface here
	// rather than inside the first navigation. The run must come from
	// browserCtx: chromedp only routes work to this session through the
	// context NewContext returned.
	bootCtx, cancelBoot := context.WithTimeout(browserCtx, d.cfg.NavigationTimeout)
	stopBoot := context.AfterFunc(ctx, cancelBoot)
	defer stopBoot()
	defer cancelBoot()
	if err := chromedp.Run(bootCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
	); err != nil {
		cancelCtx()
		cancelAlloc()
		lock.release()
		return nil, fmt.Errorf("browser startup failed: %w", err)
	}

	return &liveSession{
		ctx:         browserCtx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		lock:        lock,
	}, nil
}

// stepContextLocked bounds one CDP round trip. The deadline context must
// descend from the session context or chromedp cannot find the browser; the
// caller's run context is watched on the side so cancelling the run still
// interrupts an in-flight step. Caller holds d.mu and guarantees d.sess is
// live.
func (d *AgentDriver) stepContextLocked(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(d.sess.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

// injectSolutionLocked writes the token where the widget's verifier expects
// it and pings any registered callback so the page reacts as if the challenge
// was solved interactively.
func (d *AgentDriver) injectSolutionLocked(ctx context.Context, solution string) error {
	stepCtx, cancel := d.stepContextLocked(ctx, d.cfg.StepTimeout)
	defer cancel()

	script := fmt.Sprintf(injectSolutionJS, jsString(solution))
	var ok bool
	if err := chromedp.Run(stepCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no captcha response field found on page")
	}
	return nil
}
