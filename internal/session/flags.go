package session

import (
	"sync"
	"time"
)

// CompletionFlags records recent step-up completions per user so the gate
// can refresh a session before deciding, instead of redirecting a user whose
// elevation has not yet reached the cache. Entries are short-lived and
// consulted at most once per decision.
type CompletionFlags struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	flagged map[string]time.Time
}

// NewCompletionFlags builds a flag store with the given freshness window.
func NewCompletionFlags(ttl time.Duration) *CompletionFlags {
	return &CompletionFlags{
		ttl:     ttl,
		now:     time.Now,
		flagged: make(map[string]time.Time),
	}
}

// Mark records that the user just completed a step-up elevation.
func (f *CompletionFlags) Mark(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[userID] = f.now()
}

// Recent reports and consumes a fresh completion flag for the user.
func (f *CompletionFlags) Recent(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.flagged[userID]
	if !ok {
		return false
	}
	delete(f.flagged, userID)
	return f.now().Sub(at) <= f.ttl
}
