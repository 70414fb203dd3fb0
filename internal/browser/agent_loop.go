// File: internal/browser/agent_loop.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxAgentSteps bounds the plan/act loop. A legitimate signup form is a
// handful of steps; anything past this is the model going in circles.
const maxAgentSteps = 25

// pageSnapshot is what the planner sees each step. Interactive elements are
// enumerated with stable selectors so the model can reference them directly.
type pageSnapshot struct {
	URL    string        `json:"url"`
	Title  string        `json:"title"`
	Fields []pageElement `json:"fields"`
	Text   string        `json:"visible_text"`
}

type pageElement struct {
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
	Value       string `json:"value,omitempty"`
}

// captchaProbe is the result of scanning the page for an unsolved challenge
// widget.
type captchaProbe struct {
	Provider string `json:"provider"`
	SiteKey  string `json:"sitekey"`
}

type stepPlan struct {
	Status  string       `json:"status"`
	Reason  string       `json:"reason"`
	Actions []planAction `json:"actions"`
}

type planAction struct {
	Op       string `json:"op"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`
}

const (
	planContinue  = "continue"
	planCompleted = "completed"
	planFailed    = "failed"
)

// runLoopLocked is the plan/act cycle shared by Execute and Resume. Caller
// holds d.mu and guarantees d.sess is live.
func (d *AgentDriver) runLoopLocked(ctx context.Context) (schemas.DriverResult, error) {
	for step := 0; step < maxAgentSteps; step++ {
		if err := ctx.Err(); err != nil {
			d.teardownLocked()
			return schemas.DriverResult{}, schemas.ErrCancelled
		}

		if probe, found, err := d.probeCaptchaLocked(ctx); err == nil && found {
			pageURL := d.currentURLLocked(ctx)
			d.logger.Warn("CAPTCHA wall detected, pausing flow.",
				zap.String("provider", probe.Provider),
				zap.String("page_url", pageURL))
			// Session stays alive for Resume.
			return schemas.DriverResult{
				Outcome: schemas.DriverCaptchaEncountered,
				Challenge: &schemas.CaptchaDescriptor{
					SiteKey:  probe.SiteKey,
					PageURL:  pageURL,
					Provider: probe.Provider,
				},
			}, nil
		}

		snap, err := d.snapshotLocked(ctx)
		if err != nil {
			d.teardownLocked()
			if ctx.Err() != nil {
				return schemas.DriverResult{}, schemas.ErrCancelled
			}
			return schemas.DriverResult{}, fmt.Errorf("%w: page snapshot failed: %v", schemas.ErrSignupAutomation, err)
		}

		plan, err := d.planStep(ctx, snap, step)
		if err != nil {
			d.teardownLocked()
			if ctx.Err() != nil {
				return schemas.DriverResult{}, schemas.ErrCancelled
			}
			return schemas.DriverResult{}, fmt.Errorf("%w: planning failed: %v", schemas.ErrSignupAutomation, err)
		}

		switch plan.Status {
		case planCompleted:
			d.logger.Info("Flow reported complete.", zap.Int("steps", step+1), zap.String("reason", plan.Reason))
			d.teardownLocked()
			return schemas.DriverResult{Outcome: schemas.DriverCompleted, Reason: plan.Reason}, nil
		case planFailed:
			d.logger.Warn("Flow reported unrecoverable.", zap.Int("steps", step+1), zap.String("reason", plan.Reason))
			d.teardownLocked()
			return schemas.DriverResult{Outcome: schemas.DriverFailed, Reason: plan.Reason}, nil
		}

		for _, action := range plan.Actions {
			if err := d.applyActionLocked(ctx, action); err != nil {
				// One bad selector is not fatal; the next snapshot shows the
				// model what actually happened and it can re-plan.
				d.logger.Debug("Action failed, re-planning.",
					zap.String("op", action.Op),
					zap.String("selector", action.Selector),
					zap.Error(err))
				break
			}
		}
	}

	d.teardownLocked()
	return schemas.DriverResult{}, fmt.Errorf("%w: no completion after %d steps", schemas.ErrSignupAutomation, maxAgentSteps)
}

// planStep asks the model for the next batch of actions given the current page.
func (d *AgentDriver) planStep(ctx context.Context, snap pageSnapshot, step int) (stepPlan, error) {
	snapJSON, err := json.MarshalToString(snap)
	if err != nil {
		return stepPlan{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	userPrompt := fmt.Sprintf(
		"GOAL:\n%s\n\nCREDENTIALS (use these exact values):\nemail/phone: %s\nusername: %s\npassword: %s\n\nSTEP: %d of %d\n\nCURRENT PAGE:\n%s",
		d.instruction, d.creds.Recipient, d.creds.Username, d.creds.Password,
		step+1, maxAgentSteps, snapJSON,
	)

	raw, err := d.llm.GenerateResponse(ctx, llmGenerationRequest(userPrompt))
	if err != nil {
		return stepPlan{}, err
	}

	var plan stepPlan
	if err := json.UnmarshalFromString(extractJSON(raw), &plan); err != nil {
		return stepPlan{}, fmt.Errorf("model returned unparseable plan: %w", err)
	}
	return plan, nil
}

func (d *AgentDriver) applyActionLocked(ctx context.Context, action planAction) error {
	stepCtx, cancel := d.stepContextLocked(ctx, d.cfg.StepTimeout)
	defer cancel()

	switch action.Op {
	case "fill":
		return chromedp.Run(stepCtx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Clear(action.Selector, chromedp.ByQuery),
			chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery),
		)
	case "click":
		return chromedp.Run(stepCtx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
		)
	case "select":
		return chromedp.Run(stepCtx,
			chromedp.SetAttributeValue(action.Selector, "value", action.Value, chromedp.ByQuery),
		)
	case "navigate":
		return chromedp.Run(stepCtx,
			chromedp.Navigate(action.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	case "wait":
		return chromedp.Run(stepCtx,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
		)
	default:
		return fmt.Errorf("unknown action op %q", action.Op)
	}
}

func (d *AgentDriver) snapshotLocked(ctx context.Context) (pageSnapshot, error) {
	stepCtx, cancel := d.stepContextLocked(ctx, d.cfg.StepTimeout)
	defer cancel()

	var snap pageSnapshot
	if err := chromedp.Run(stepCtx, chromedp.Evaluate(snapshotJS, &snap)); err != nil {
		return pageSnapshot{}, err
	}
	return snap, nil
}

func (d *AgentDriver) probeCaptchaLocked(ctx context.Context) (captchaProbe, bool, error) {
	stepCtx, cancel := d.stepContextLocked(ctx, d.cfg.StepTimeout)
	defer cancel()

	var probe *captchaProbe
	if err := chromedp.Run(stepCtx, chromedp.Evaluate(captchaProbeJS, &probe)); err != nil {
		return captchaProbe{}, false, err
	}
	if probe == nil || probe.SiteKey == "" {
		return captchaProbe{}, false, nil
	}
	return *probe, true, nil
}

func (d *AgentDriver) currentURLLocked(ctx context.Context) string {
	stepCtx, cancel := d.stepContextLocked(ctx, d.cfg.StepTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(stepCtx, chromedp.Location(&url)); err != nil {
		return ""
	}
	return url
}

// extractJSON strips markdown code fences that models sometimes wrap JSON in
// even when asked for raw output.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// jsString produces a safely quoted JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
