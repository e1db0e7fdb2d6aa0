package gate

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"stepup/internal/platform/metrics"
	dErrors "stepup/pkg/domain-errors"
)

// TierSource computes the caller's current trust tier. Implementations must
// recompute from the live session on every call, never from a stale cache.
type TierSource interface {
	CurrentTier(ctx context.Context, sessionToken string) (Tier, error)
}

// SessionRefresher forces an authoritative session refresh. The gate uses it
// when a just-completed enrollment may not have landed in the session yet.
type SessionRefresher interface {
	Refresh(ctx context.Context, sessionToken string) error
}

// CompletionFlags reports whether an enrollment finished for the user so
// recently that the session projection may still be catching up.
type CompletionFlags interface {
	Recent(userID string) bool
}

// MarkerStore is the durable pending-marker store (see internal/gate/store).
type MarkerStore interface {
	Put(ctx context.Context, userID string, marker PendingAuthMarker) error
	Consume(ctx context.Context, userID, operationName string) (*PendingAuthMarker, error)
}

// Gate evaluates tiered operations and manages step-up resumption markers.
type Gate struct {
	registry  *Registry
	tiers     TierSource
	markers   MarkerStore
	stepUpURL string
	markerTTL time.Duration

	refresher SessionRefresher
	flags     CompletionFlags
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithCompletionFlags wires the just-completed-enrollment signal used to
// avoid redirecting a user whose session refresh is still in flight.
func WithCompletionFlags(flags CompletionFlags, refresher SessionRefresher) Option {
	return func(g *Gate) {
		g.flags = flags
		g.refresher = refresher
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New constructs a Gate over the given operation registry and marker store.
// stepUpURL is the step-up authentication entry point; the return URL is
// appended as a return_to query parameter.
func New(registry *Registry, tiers TierSource, markers MarkerStore, stepUpURL string, markerTTL time.Duration, opts ...Option) *Gate {
	g := &Gate{
		registry:  registry,
		tiers:     tiers,
		markers:   markers,
		stepUpURL: stepUpURL,
		markerTTL: markerTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates whether the caller may perform the named operation now.
// A sufficient tier allows with no side effects. An insufficient tier writes
// a pending marker and returns the step-up redirect; the caller must abort
// the in-progress action. Errors computing the tier never trigger a redirect.
func (g *Gate) Check(ctx context.Context, sessionToken, userID, operationName, returnTo string) (Decision, error) {
	op, ok := g.registry.Lookup(operationName)
	if !ok {
		return Decision{}, dErrors.New(dErrors.CodeUnknownOperation, "operation not registered: "+operationName)
	}

	current, err := g.tiers.CurrentTier(ctx, sessionToken)
	if err != nil {
		return Decision{}, err
	}

	if current < op.RequiredTier && g.flags != nil && g.flags.Recent(userID) {
		// An enrollment just completed; the cached session may predate it.
		// Refresh once before concluding the tier really is insufficient.
		if err := g.refresher.Refresh(ctx, sessionToken); err != nil {
			return Decision{}, dErrors.Wrap(dErrors.CodeSessionStale, "session refresh after enrollment", err)
		}
		current, err = g.tiers.CurrentTier(ctx, sessionToken)
		if err != nil {
			return Decision{}, err
		}
	}

	if current >= op.RequiredTier {
		g.metrics.IncGateDecision(op.Name, "allowed")
		return Decision{Allowed: true}, nil
	}

	marker := PendingAuthMarker{
		OperationName: op.Name,
		CreatedAt:     g.now(),
		ReturnTo:      returnTo,
	}
	if err := g.markers.Put(ctx, userID, marker); err != nil {
		// Without a durable marker the operation could not resume; surface
		// the failure instead of redirecting into a dead end.
		return Decision{}, dErrors.Wrap(dErrors.CodeInternal, "persist step-up marker", err)
	}

	g.metrics.IncGateDecision(op.Name, "step_up")
	g.logger.InfoContext(ctx, "step-up required",
		"operation", op.Name,
		"required_tier", int(op.RequiredTier),
		"current_tier", int(current),
		"user_id", userID,
	)

	return Decision{
		Allowed:     false,
		RedirectURL: g.buildStepUpURL(returnTo),
	}, nil
}

// ConsumeReturn checks for a matching, non-expired marker on return from
// step-up authentication. A found marker is deleted and reported exactly
// once; subsequent calls return false until the gate issues a new one.
// A consumed marker authorizes one resumption attempt only; callers still
// re-check the tier, since the user may have abandoned the step-up.
func (g *Gate) ConsumeReturn(ctx context.Context, userID, operationName string) (bool, error) {
	marker, err := g.markers.Consume(ctx, userID, operationName)
	if err != nil {
		return false, dErrors.Wrap(dErrors.CodeInternal, "consume step-up marker", err)
	}
	if marker == nil {
		return false, nil
	}
	if marker.Expired(g.now(), g.markerTTL) {
		g.metrics.IncMarkerExpired()
		return false, nil
	}

	g.metrics.IncMarkerConsumed()
	g.logger.InfoContext(ctx, "step-up marker consumed",
		"operation", operationName,
		"user_id", userID,
		"return_to", marker.ReturnTo,
	)
	return true, nil
}

func (g *Gate) buildStepUpURL(returnTo string) string {
	u, err := url.Parse(g.stepUpURL)
	if err != nil {
		return g.stepUpURL
	}
	q := u.Query()
	if returnTo != "" {
		q.Set("return_to", returnTo)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
