// File: internal/browser/scripts.go
package browser

import "github.com/xkilldash9x/autosign-cli/internal/llmclient"

const plannerSystemPrompt = `You are a web automation planner completing an account signup on behalf of a user.

Each turn you receive the goal, the credentials to use, and a JSON snapshot of the current page (url, title, interactive fields with CSS selectors, visible text).

Respond ONLY with a single JSON object, no prose:
{
  "status": "continue" | "completed" | "failed",
  "reason": "short explanation, required for completed/failed",
  "actions": [
    {"op": "fill", "selector": "<css>", "value": "<text>"},
    {"op": "click", "selector": "<css>"},
    {"op": "select", "selector": "<css>", "value": "<option value>"},
    {"op": "navigate", "url": "<absolute url>"},
    {"op": "wait", "selector": "<css>"}
  ]
}

Rules:
- Use ONLY selectors present in the snapshot.
- Use the provided credentials verbatim; never invent your own.
- Report "completed" once the page confirms the account was created or asks for a verification code that will arrive out of band.
- Report "failed" only when the flow cannot proceed (account exists, signup closed, repeated rejection).
- Dismiss cookie banners and interstitials before interacting with the form.`

func llmGenerationRequest(userPrompt string) llmclient.GenerationRequest {
	return llmclient.GenerationRequest{
		SystemPrompt:    plannerSystemPrompt,
		UserPrompt:      userPrompt,
		ForceJSONFormat: true,
	}
}

// snapshotJS enumerates interactive elements with best-effort stable CSS
// selectors and trims visible text to keep prompts bounded.
const snapshotJS = `(() => {
  const sel = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    if (el.name) return el.tagName.toLowerCase() + '[name="' + CSS.escape(el.name) + '"]';
    const parent = el.parentElement;
    if (!parent) return el.tagName.toLowerCase();
    const siblings = Array.from(parent.querySelectorAll(el.tagName.toLowerCase()));
    const idx = siblings.indexOf(el);
    return el.tagName.toLowerCase() + ':nth-of-type(' + (idx + 1) + ')';
  };
  const labelFor = (el) => {
    if (el.labels && el.labels.length) return el.labels[0].innerText.trim().slice(0, 80);
    if (el.getAttribute('aria-label')) return el.getAttribute('aria-label').slice(0, 80);
    return '';
  };
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const fields = [];
  for (const el of document.querySelectorAll('input, select, textarea, button, a[role="button"], [type="submit"]')) {
    if (!visible(el)) continue;
    if (el.type === 'hidden') continue;
    fields.push({
      selector: sel(el),
      tag: el.tagName.toLowerCase(),
      type: el.type || '',
      name: el.name || '',
      placeholder: el.placeholder || '',
      label: labelFor(el) || (el.innerText || '').trim().slice(0, 80),
      value: el.type === 'password' ? (el.value ? '***' : '') : (el.value || '').slice(0, 80),
    });
    if (fields.length >= 40) break;
  }
  return {
    url: location.href,
    title: document.title,
    fields: fields,
    visible_text: (document.body ? document.body.innerText : '').replace(/\s+/g, ' ').trim().slice(0, 2000),
  };
})()`

// captchaProbeJS reports an unsolved challenge widget, if any. A widget whose
// response field already carries a token is considered solved and ignored,
// which is what lets the loop continue after Resume.
const captchaProbeJS = `(() => {
  const solved = (name) => {
    const el = document.querySelector('textarea[name="' + name + '"]');
    return el && el.value && el.value.length > 0;
  };
  const re = document.querySelector('.g-recaptcha[data-sitekey], div[data-sitekey] iframe[src*="recaptcha"]');
  if (re && !solved('g-recaptcha-response')) {
    const host = re.closest('[data-sitekey]') || re;
    return { provider: 'recaptcha', sitekey: host.getAttribute('data-sitekey') || '' };
  }
  const iframe = document.querySelector('iframe[src*="recaptcha/api2/anchor"]');
  if (iframe && !solved('g-recaptcha-response')) {
    const m = iframe.src.match(/[?&]k=([^&]+)/);
    return { provider: 'recaptcha', sitekey: m ? m[1] : '' };
  }
  const hc = document.querySelector('.h-captcha[data-sitekey], [data-hcaptcha-widget-id]');
  if (hc && !solved('h-captcha-response')) {
    return { provider: 'hcaptcha', sitekey: hc.getAttribute('data-sitekey') || '' };
  }
  return null;
})()`

// injectSolutionJS fills every response field present and fires the widget
// callback when one is registered. %s is the JSON-quoted token.
const injectSolutionJS = `(() => {
  const token = %s;
  let hit = false;
  for (const name of ['g-recaptcha-response', 'h-captcha-response']) {
    for (const el of document.querySelectorAll('textarea[name="' + name + '"], input[name="' + name + '"]')) {
      el.value = token;
      el.dispatchEvent(new Event('change', { bubbles: true }));
      hit = true;
    }
  }
  if (!hit) return false;
  const host = document.querySelector('[data-callback]');
  if (host) {
    const cb = window[host.getAttribute('data-callback')];
    if (typeof cb === 'function') { try { cb(token); } catch (e) {} }
  }
  return true;
})()`
