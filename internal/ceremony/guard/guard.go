// Package guard blocks provider-initiated navigation for the duration of a
// ceremony. The provider's completion flow answers with redirects into its
// own UI; while a ceremony is live those must be cancelled so the gateway can
// verify completion independently, then normal redirect handling is restored.
package guard

import (
	"net/http"
	"sync"
)

// Predicate decides whether a redirect target is allowed while the guard is
// installed. Returning false cancels the redirect.
type Predicate func(target *http.Request) bool

// Guard swaps an allow/deny redirect policy into an HTTP client for a scoped
// duration. Install and Uninstall pair; Acquire gives the release-on-all-
// exit-paths form the ceremonies use.
type Guard struct {
	mu        sync.Mutex
	client    *http.Client
	allow     Predicate
	previous  func(req *http.Request, via []*http.Request) error
	installed bool
}

// New creates a guard over the given client with the given allow predicate.
func New(client *http.Client, allow Predicate) *Guard {
	return &Guard{client: client, allow: allow}
}

// Install swaps the client's redirect policy. Redirects denied by the
// predicate resolve to the last response instead of being followed.
// Installing an already-installed guard is a no-op.
func (g *Guard) Install() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.installed {
		return
	}

	g.previous = g.client.CheckRedirect
	prev := g.previous
	allow := g.allow
	g.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !allow(req) {
			return http.ErrUseLastResponse
		}
		if prev != nil {
			return prev(req, via)
		}
		return nil
	}
	g.installed = true
}

// Uninstall restores the client's previous redirect policy. Safe to call
// multiple times; only the first call after Install has effect.
func (g *Guard) Uninstall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.installed {
		return
	}
	g.client.CheckRedirect = g.previous
	g.previous = nil
	g.installed = false
}

// Installed reports whether the guard currently holds the client's policy.
func (g *Guard) Installed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.installed
}

// Acquire installs a guard and returns its release function. The release is
// idempotent, so deferring it alongside explicit early releases is safe.
func Acquire(client *http.Client, allow Predicate) func() {
	g := New(client, allow)
	g.Install()

	var once sync.Once
	return func() {
		once.Do(g.Uninstall)
	}
}

// DenyHost returns a predicate that cancels redirects into the given host
// and allows everything else.
func DenyHost(host string) Predicate {
	return func(target *http.Request) bool {
		return target.URL.Host != host
	}
}
