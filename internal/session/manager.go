package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"stepup/internal/gate"
	"stepup/internal/platform/metrics"
	dErrors "stepup/pkg/domain-errors"
)

// TierPolicy derives an operation tier from a session. It must be a pure
// function of the session document so repeated evaluation is stable.
type TierPolicy func(*Session) gate.Tier

// DefaultTierPolicy maps sessions onto tiers:
//
//	tier 1  any valid session
//	tier 2  aal1 with at least one second factor enrolled
//	tier 3  aal2 session
//	tier 4  aal2 with at least two distinct completed methods
func DefaultTierPolicy(s *Session) gate.Tier {
	if s == nil {
		return 0
	}
	if s.AssuranceLevel == AAL2 {
		if s.DistinctCompletedMethods() >= 2 {
			return gate.Tier4
		}
		return gate.Tier3
	}
	if s.HasCredential(KindPasskey) || s.HasCredential(KindTOTP) {
		return gate.Tier2
	}
	return gate.Tier1
}

// Fetcher loads the current provider session for a token.
type Fetcher interface {
	Whoami(ctx context.Context, sessionToken string) (*Session, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithTierPolicy overrides the default tier derivation.
func WithTierPolicy(p TierPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// Manager caches one session document per token and keeps it current.
// Refresh replaces the cached document wholesale; partial merges would let a
// revoked factor linger locally, so they are never performed.
type Manager struct {
	fetcher Fetcher
	policy  TierPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	onChange []func(sessionToken string, s *Session)
}

// NewManager builds a Manager around the given fetcher.
func NewManager(fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		fetcher:  fetcher,
		policy:   DefaultTierPolicy,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers a hook invoked after every successful refresh. Hooks
// run synchronously under no lock and must not call back into the Manager's
// refresh path.
func (m *Manager) OnChange(fn func(sessionToken string, s *Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Current returns the cached session for the token, fetching it on first
// use.
func (m *Manager) Current(ctx context.Context, sessionToken string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionToken]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if err := m.Refresh(ctx, sessionToken); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionToken], nil
}

// Refresh re-fetches the session document and replaces the cached copy.
// Concurrent refreshes for the same token are collapsed into one provider
// round trip.
func (m *Manager) Refresh(ctx context.Context, sessionToken string) error {
	_, err, _ := m.group.Do(sessionToken, func() (any, error) {
		s, err := m.fetcher.Whoami(ctx, sessionToken)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeSessionStale) {
				m.Invalidate(sessionToken)
			}
			return nil, err
		}

		m.mu.Lock()
		m.sessions[sessionToken] = s
		hooks := make([]func(string, *Session), len(m.onChange))
		copy(hooks, m.onChange)
		m.mu.Unlock()

		m.metrics.IncSessionRefresh()
		m.logger.DebugContext(ctx, "session refreshed",
			"identity_id", s.IdentityID,
			"aal", string(s.AssuranceLevel),
			"credentials", len(s.Credentials))

		for _, fn := range hooks {
			fn(sessionToken, s)
		}
		return s, nil
	})
	return err
}

// Invalidate drops the cached session for the token.
func (m *Manager) Invalidate(sessionToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionToken)
}

// CurrentTier derives the operation tier for the token's session. Satisfies
// the gate's tier source.
func (m *Manager) CurrentTier(ctx context.Context, sessionToken string) (gate.Tier, error) {
	s, err := m.Current(ctx, sessionToken)
	if err != nil {
		return 0, err
	}
	return m.policy(s), nil
}
