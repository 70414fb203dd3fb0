// File: internal/interpreter/interpreter.go
// Description: Maps a free-text signup command onto a resolved SignupRequest.
// Matching is deliberately simple: known platform names first (registry
// priority order), then a URL scan for custom targets. Anything fancier
// belongs to the automation driver's language model, not here.
package interpreter

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/platform"
)

// Interpreter resolves commands against a platform registry.
type Interpreter struct {
	registry *platform.Registry
	logger   *zap.Logger
}

// New creates an Interpreter.
func New(registry *platform.Registry, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		registry: registry,
		logger:   logger.Named("interpreter"),
	}
}

// Resolve maps a command to a SignupRequest. Resolution order:
//  1. case-insensitive substring match of registered platform names, first
//     alias in registration order wins;
//  2. a well-formed URL anywhere in the command, which synthesizes a custom
//     profile;
//  3. otherwise ErrUnresolvedTarget. This is reported to the caller, never
//     retried.
func (i *Interpreter) Resolve(command string) (schemas.SignupRequest, error) {
	lowered := strings.ToLower(command)

	for _, alias := range i.registry.Aliases() {
		if !strings.Contains(lowered, alias.Name) {
			continue
		}
		profile, err := i.registry.Lookup(alias.ID)
		if err != nil {
			// An alias pointing at an unregistered profile is a table bug,
			// surfaced explicitly rather than treated as "no match".
			return schemas.SignupRequest{}, err
		}
		i.logger.Debug("Resolved built-in platform",
			zap.String("alias", alias.Name),
			zap.String("platform", string(alias.ID)),
		)
		return schemas.SignupRequest{RawCommand: command, Profile: profile}, nil
	}

	if target, ok := scanForURL(command); ok {
		i.logger.Debug("Resolved custom target from URL", zap.String("url", target))
		return schemas.SignupRequest{
			RawCommand: command,
			Profile:    platform.CustomProfile(target),
		}, nil
	}

	return schemas.SignupRequest{}, fmt.Errorf("%w: %q", schemas.ErrUnresolvedTarget, command)
}

// scanForURL looks for the first well-formed URL token in the command.
// Scheme-less tokens with a dotted host (e.g. "example.com/join") are accepted
// and normalized to https, matching how targets are normalized elsewhere.
func scanForURL(command string) (string, bool) {
	for _, token := range strings.Fields(command) {
		token = strings.Trim(token, `"'.,;!?()`)
		if token == "" {
			continue
		}

		candidate := token
		if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
			// Require a dot so plain words do not parse as hosts.
			host := candidate
			if idx := strings.IndexAny(host, "/:"); idx >= 0 {
				host = host[:idx]
			}
			if !strings.Contains(host, ".") || strings.HasSuffix(host, ".") || strings.HasPrefix(host, ".") {
				continue
			}
			candidate = "https://" + candidate
		}

		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
			continue
		}
		return u.String(), true
	}
	return "", false
}
