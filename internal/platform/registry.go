// File: internal/platform/registry.go
// Description: Static registry of platform profiles. A profile describes how to
// sign up for one specific website: where the form lives, the natural-language
// instructions handed to the automation driver, and which channel delivers the
// verification code.
package platform

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// Alias binds a human name that may appear in a free-text command to a
// registered platform. Aliases form an explicit priority list: more specific
// names are registered first so "dev.to" wins over "dev" and
// "stack overflow" over "stack".
type Alias struct {
	Name string
	ID   schemas.PlatformID
}

// Registry is a read-only lookup table shared by all concurrent runs.
type Registry struct {
	profiles map[schemas.PlatformID]schemas.PlatformProfile
	aliases  []Alias
}

// NewRegistry builds the built-in platform table.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[schemas.PlatformID]schemas.PlatformProfile)}
	for _, p := range builtinProfiles() {
		r.profiles[p.ID] = p
	}
	r.aliases = builtinAliases()
	return r
}

// Lookup returns the profile for id. Pure, no side effects.
func (r *Registry) Lookup(id schemas.PlatformID) (schemas.PlatformProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return schemas.PlatformProfile{}, fmt.Errorf("%w: %q", schemas.ErrUnknownPlatform, id)
	}
	return p, nil
}

// Aliases returns the name priority list in registration order.
func (r *Registry) Aliases() []Alias {
	return r.aliases
}

// Profiles returns all built-in profiles sorted by ID.
func (r *Registry) Profiles() []schemas.PlatformProfile {
	out := make([]schemas.PlatformProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// builtinAliases is ordered most-specific-first. The interpreter walks it
// top to bottom and the first substring match wins, which keeps resolution
// deterministic for overlapping names.
func builtinAliases() []Alias {
	return []Alias{
		{"stack overflow", schemas.PlatformStackOverflow},
		{"stackoverflow", schemas.PlatformStackOverflow},
		{"dev.to", schemas.PlatformDevTo},
		{"github", schemas.PlatformGitHub},
		{"reddit", schemas.PlatformReddit},
		{"twitter", schemas.PlatformTwitter},
		{"discord", schemas.PlatformDiscord},
	}
}

func builtinProfiles() []schemas.PlatformProfile {
	return []schemas.PlatformProfile{
		{
			ID:        schemas.PlatformGitHub,
			SignupURL: "https://github.com/signup",
			SignupInstruction: "Go to the GitHub signup page and create a new account. " +
				"Fill in username, email, and password. Complete the signup process and stop at the " +
				"email verification step. Stay only on the GitHub website.",
			VerificationInstruction: "Find the launch code input field, enter the verification code, " +
				"and submit to complete verification.",
			Channel:        schemas.ChannelEmail,
			CodeLengthHint: 8,
		},
		{
			ID:        schemas.PlatformReddit,
			SignupURL: "https://www.reddit.com/register/",
			SignupInstruction: "Go to the Reddit signup page and create a new account. " +
				"Fill in username, password, and email. Complete the signup process and stop at the " +
				"email verification step. Stay only on the Reddit website.",
			VerificationInstruction: "Find the email verification input field, enter the verification " +
				"code, and submit the form to complete verification.",
			Channel:        schemas.ChannelEmail,
			CodeLengthHint: 6,
		},
		{
			ID:        schemas.PlatformTwitter,
			SignupURL: "https://twitter.com/i/flow/signup",
			SignupInstruction: "Go to the Twitter signup page and create a new account. " +
				"Fill in name, email, and password. Complete the signup process and stop at the " +
				"verification step. Stay only on the Twitter website.",
			VerificationInstruction: "Find the verification code input field, enter the code, and " +
				"submit to complete verification.",
			Channel:        schemas.ChannelEmail,
			CodeLengthHint: 6,
		},
		{
			ID:        schemas.PlatformDiscord,
			SignupURL: "https://discord.com/register",
			SignupInstruction: "Go to the Discord signup page and create a new account. " +
				"Fill in email, username, and password. Complete the signup process and stop at the " +
				"phone verification step. Stay only on the Discord website.",
			VerificationInstruction: "Find the verification code input field, enter the code, and " +
				"submit to complete verification.",
			Channel:        schemas.ChannelSMS,
			CodeLengthHint: 6,
		},
		{
			ID:        schemas.PlatformDevTo,
			SignupURL: "https://dev.to/enter?state=new-user",
			SignupInstruction: "Go to the DEV Community signup page and create a new account with " +
				"email. Fill in name, username, email, and password. Complete the signup process and " +
				"stop at the email confirmation step. Stay only on the dev.to website.",
			VerificationInstruction: "Find the confirmation code input field, enter the verification " +
				"code, and submit to complete confirmation.",
			Channel:        schemas.ChannelEmail,
			CodeLengthHint: 6,
		},
		{
			ID:        schemas.PlatformStackOverflow,
			SignupURL: "https://stackoverflow.com/users/signup",
			SignupInstruction: "Go to the Stack Overflow signup page and create a new account. " +
				"Fill in display name, email, and password. Complete the signup process and stop at " +
				"the email verification step. Stay only on the Stack Overflow website.",
			VerificationInstruction: "Find the verification input field, enter the verification code, " +
				"and submit to complete verification.",
			Channel:        schemas.ChannelEmail,
			CodeLengthHint: 6,
		},
	}
}

// CustomProfile synthesizes a profile for a bare URL found in a command. The
// channel defaults to email and the instructions come from a generic template.
func CustomProfile(targetURL string) schemas.PlatformProfile {
	return schemas.PlatformProfile{
		ID:        schemas.PlatformCustom,
		SignupURL: targetURL,
		SignupInstruction: fmt.Sprintf("Go to %s and sign up for a new account. Fill in the "+
			"registration form with the provided credentials. Complete the signup process and stop "+
			"at the verification step if one appears. Stay only on this website.", targetURL),
		VerificationInstruction: "Find the verification code input field, enter the verification " +
			"code, and submit to complete verification.",
		Channel: schemas.ChannelEmail,
	}
}
