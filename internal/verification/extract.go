// File: internal/verification/extract.go
// Description: Deterministic verification-code extraction from unstructured
// message content. The strategy chain is fixed: keyword-adjacent digit runs
// first, then the longest isolated run, with HTML markup stripped up front.
package verification

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

const (
	// minCodeLen/maxCodeLen bound what counts as a code-shaped digit run.
	minCodeLen = 4
	maxCodeLen = 8
	// keywordWindow is how many characters around a digit run are searched
	// for a code keyword.
	keywordWindow = 48
)

// codeKeywords mark a digit run as a verification code when they appear close
// to it. Matching is case-insensitive. "launch code" covers GitHub's wording.
var codeKeywords = []string{
	"verification",
	"launch code",
	"confirm",
	"verify",
	"code",
	"otp",
	"pin",
}

// digitRun is one maximal run of consecutive digits in the content.
type digitRun struct {
	value string
	start int
	end   int // exclusive
}

// ExtractCode finds the verification code in raw message content. lengthHint,
// when non-zero, prefers keyword-adjacent runs of exactly that length but
// never rejects others. Extraction is deterministic for a given content; it
// fails with ErrCodeNotFound when no code-shaped token exists.
func ExtractCode(content string, lengthHint int) (string, error) {
	text := content
	if looksLikeHTML(text) {
		text = stripHTML(text)
	}

	runs := findDigitRuns(text)
	if len(runs) == 0 {
		return "", fmt.Errorf("%w: no %d-%d digit run in content", schemas.ErrCodeNotFound, minCodeLen, maxCodeLen)
	}

	lowered := strings.ToLower(text)

	// Strategy 1: digit runs with a code keyword within the surrounding window.
	var adjacent []digitRun
	for _, run := range runs {
		if keywordNear(lowered, run) {
			adjacent = append(adjacent, run)
		}
	}
	if len(adjacent) > 0 {
		if lengthHint > 0 {
			for _, run := range adjacent {
				if len(run.value) == lengthHint {
					return run.value, nil
				}
			}
		}
		return adjacent[0].value, nil
	}

	// Strategy 2: the single longest isolated digit run, earliest on ties.
	best := runs[0]
	for _, run := range runs[1:] {
		if len(run.value) > len(best.value) {
			best = run
		}
	}
	return best.value, nil
}

// findDigitRuns collects maximal digit runs of code-shaped length. Runs longer
// than maxCodeLen (timestamps, phone numbers, order ids) are not codes and are
// discarded whole rather than truncated.
func findDigitRuns(text string) []digitRun {
	var runs []digitRun
	start := -1
	for i := 0; i <= len(text); i++ {
		isDigit := i < len(text) && text[i] >= '0' && text[i] <= '9'
		if isDigit && start < 0 {
			start = i
		}
		if !isDigit && start >= 0 {
			length := i - start
			if length >= minCodeLen && length <= maxCodeLen {
				runs = append(runs, digitRun{value: text[start:i], start: start, end: i})
			}
			start = -1
		}
	}
	return runs
}

// keywordNear reports whether any code keyword appears within keywordWindow
// characters before or after the run. lowered must be the lowercased text the
// run offsets refer to.
func keywordNear(lowered string, run digitRun) bool {
	lo := run.start - keywordWindow
	if lo < 0 {
		lo = 0
	}
	hi := run.end + keywordWindow
	if hi > len(lowered) {
		hi = len(lowered)
	}
	window := lowered[lo:hi]
	for _, kw := range codeKeywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
}

// looksLikeHTML is a cheap heuristic: a tag-open followed by a letter or '/'.
func looksLikeHTML(content string) bool {
	for i := 0; i < len(content)-1; i++ {
		if content[i] == '<' {
			c := content[i+1]
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '/' || c == '!' {
				return true
			}
		}
	}
	return false
}

// stripHTML reduces markup to its visible text. Script and style bodies are
// dropped; element boundaries become spaces so adjacent cells do not fuse
// into one accidental digit run.
func stripHTML(content string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}
