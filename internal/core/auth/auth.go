// Package auth decides whether an application may push to or pop from a
// channel.
package auth

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/werr"
)

// Op is a channel operation subject to authorization.
type Op string

const (
	OpPush Op = "push"
	OpPop  Op = "pop"
)

// Authorizer answers whether id may perform op on channel. A nil id means
// the caller did not authenticate.
type Authorizer interface {
	Authorize(id *apps.Identity, op Op, channel string) bool
}

// AllowAll admits everyone, authenticated or not.
type AllowAll struct{}

func (AllowAll) Authorize(*apps.Identity, Op, string) bool { return true }

// Authenticated admits any caller with a resolved identity.
type Authenticated struct{}

func (Authenticated) Authorize(id *apps.Identity, _ Op, _ string) bool { return id != nil }

// Whitelist admits callers whose app url is in the set.
type Whitelist struct {
	urls map[string]struct{}
}

// NewWhitelist creates a whitelist of app urls.
func NewWhitelist(urls ...string) *Whitelist {
	w := &Whitelist{urls: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		w.urls[u] = struct{}{}
	}
	return w
}

func (w *Whitelist) Authorize(id *apps.Identity, _ Op, _ string) bool {
	if id == nil {
		return false
	}
	_, ok := w.urls[id.URL]
	return ok
}

// Pattern admits callers whose app url matches one of a set of globs, e.g.
// "https://github.com/homeweave/**".
type Pattern struct {
	patterns []string
}

// NewPattern validates and stores the globs.
func NewPattern(patterns ...string) (*Pattern, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, werr.Protocol("invalid url pattern %q", p)
		}
	}
	return &Pattern{patterns: patterns}, nil
}

func (p *Pattern) Authorize(id *apps.Identity, _ Op, _ string) bool {
	if id == nil || id.URL == "" {
		return false
	}
	for _, pattern := range p.patterns {
		if ok, _ := doublestar.Match(pattern, id.URL); ok {
			return true
		}
	}
	return false
}

// Chain admits a caller if any member does.
type Chain []Authorizer

func (c Chain) Authorize(id *apps.Identity, op Op, channel string) bool {
	for _, a := range c {
		if a.Authorize(id, op, channel) {
			return true
		}
	}
	return false
}

// Map holds the authorizer for each operation on a channel.
type Map map[Op]Authorizer

// For returns the authorizer for op, defaulting to AllowAll.
func (m Map) For(op Op) Authorizer {
	if a, ok := m[op]; ok && a != nil {
		return a
	}
	return AllowAll{}
}

// Check runs the authorizer for op and converts a refusal into the error the
// client sees: authentication-failed when no identity was presented,
// unauthorized otherwise.
func (m Map) Check(id *apps.Identity, op Op, channel string) error {
	if m.For(op).Authorize(id, op, channel) {
		return nil
	}
	if id == nil {
		return werr.Authentication("%s on %s requires authentication", op, channel)
	}
	return werr.Unauthorized("%s on %s is not allowed for %s", op, channel, id.AppID)
}
