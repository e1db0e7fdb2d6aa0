package gate_test

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepup/internal/gate"
	"stepup/internal/gate/store"
	dErrors "stepup/pkg/domain-errors"
)

type fakeTiers struct {
	mu   sync.Mutex
	tier gate.Tier
	err  error
}

func (f *fakeTiers) CurrentTier(ctx context.Context, sessionToken string) (gate.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tier, f.err
}

func (f *fakeTiers) set(t gate.Tier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tier = t
}

// fakeRefresher simulates the session catching up with a just-completed
// enrollment: Refresh raises the tier source to the target.
type fakeRefresher struct {
	tiers     *fakeTiers
	target    gate.Tier
	refreshes int
}

func (f *fakeRefresher) Refresh(ctx context.Context, sessionToken string) error {
	f.refreshes++
	f.tiers.set(f.target)
	return nil
}

type staticFlags struct{ recent bool }

func (s *staticFlags) Recent(userID string) bool {
	r := s.recent
	s.recent = false
	return r
}

func testRegistry(t *testing.T) *gate.Registry {
	t.Helper()
	reg, err := gate.NewRegistry(
		gate.Operation{Name: "VIEW_RECOVERY_CODES", RequiredTier: gate.Tier2},
		gate.Operation{Name: "GENERATE_RECOVERY_CODES", RequiredTier: gate.Tier3},
		gate.Operation{Name: "REVOKE_RECOVERY_CODES", RequiredTier: gate.Tier4},
		gate.Operation{Name: "VIEW_PROFILE", RequiredTier: gate.Tier1},
	)
	require.NoError(t, err)
	return reg
}

func newGate(t *testing.T, tiers gate.TierSource, opts ...gate.Option) *gate.Gate {
	t.Helper()
	return gate.New(testRegistry(t), tiers, store.NewMemory(10*time.Minute),
		"https://app.test/auth/stepup", 10*time.Minute, opts...)
}

func TestCheckTierMonotonicity(t *testing.T) {
	ops := map[string]gate.Tier{
		"VIEW_PROFILE":            gate.Tier1,
		"VIEW_RECOVERY_CODES":     gate.Tier2,
		"GENERATE_RECOVERY_CODES": gate.Tier3,
		"REVOKE_RECOVERY_CODES":   gate.Tier4,
	}

	for current := gate.Tier1; current <= gate.Tier4; current++ {
		t.Run(fmt.Sprintf("current=%s", current), func(t *testing.T) {
			g := newGate(t, &fakeTiers{tier: current})
			for name, required := range ops {
				decision, err := g.Check(context.Background(), "tok", "user-1", name, "/settings")
				require.NoError(t, err)
				assert.Equal(t, required <= current, decision.Allowed,
					"op %s (tier %s) at current %s", name, required, current)
			}
		})
	}
}

func TestCheckUnknownOperation(t *testing.T) {
	g := newGate(t, &fakeTiers{tier: gate.Tier4})

	_, err := g.Check(context.Background(), "tok", "user-1", "NO_SUCH_OP", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnknownOperation))
}

func TestCheckTierErrorNeverRedirects(t *testing.T) {
	tiers := &fakeTiers{err: dErrors.New(dErrors.CodeSessionStale, "session no longer valid")}
	g := newGate(t, tiers)

	decision, err := g.Check(context.Background(), "tok", "user-1", "VIEW_PROFILE", "/settings")
	require.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.Empty(t, decision.RedirectURL, "a tier computation failure must not redirect")
}

func TestCheckInsufficientWritesMarkerAndRedirects(t *testing.T) {
	markers := store.NewMemory(10 * time.Minute)
	g := gate.New(testRegistry(t), &fakeTiers{tier: gate.Tier2}, markers,
		"https://app.test/auth/stepup", 10*time.Minute)

	decision, err := g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	u, err := url.Parse(decision.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/auth/stepup", u.Path)
	assert.Equal(t, "/settings", u.Query().Get("return_to"))

	marker, err := markers.Consume(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "/settings", marker.ReturnTo)
}

func TestCheckCompletionFlagRefreshesOnce(t *testing.T) {
	// The user just enrolled a second factor; the cached tier still says 2.
	tiers := &fakeTiers{tier: gate.Tier2}
	refresher := &fakeRefresher{tiers: tiers, target: gate.Tier3}
	flags := &staticFlags{recent: true}

	g := newGate(t, tiers, gate.WithCompletionFlags(flags, refresher))

	decision, err := g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "refresh must land before concluding insufficiency")
	assert.Equal(t, 1, refresher.refreshes)

	// Without a fresh flag there is no second refresh; the tier is trusted.
	tiers.set(gate.Tier2)
	decision, err = g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 1, refresher.refreshes)
}

func TestConsumeReturnIdempotent(t *testing.T) {
	g := newGate(t, &fakeTiers{tier: gate.Tier2})

	_, err := g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)

	ok, err := g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.False(t, ok, "a marker authorizes exactly one return")
}

func TestConsumeReturnWithoutMarker(t *testing.T) {
	g := newGate(t, &fakeTiers{tier: gate.Tier4})

	ok, err := g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeReturnExpiredMarker(t *testing.T) {
	base := time.Now()
	now := base
	clock := func() time.Time { return now }

	markers := store.NewMemory(time.Hour, store.WithClock(clock))
	g := gate.New(testRegistry(t), &fakeTiers{tier: gate.Tier2}, markers,
		"https://app.test/auth/stepup", 10*time.Minute, gate.WithClock(clock))

	_, err := g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)

	now = base.Add(11 * time.Minute)
	ok, err := g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.False(t, ok, "an expired marker cannot authorize a return")
}

// TestStepUpRoundTrip walks the full journey: a tier-2 session asks for a
// tier-3 operation, gets redirected, elevates, returns, and is authorized
// exactly once.
func TestStepUpRoundTrip(t *testing.T) {
	tiers := &fakeTiers{tier: gate.Tier2}
	g := newGate(t, tiers)

	decision, err := g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	u, err := url.Parse(decision.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "/settings", u.Query().Get("return_to"))

	// The user completes step-up; their session is now tier 3.
	tiers.set(gate.Tier3)

	ok, err := g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.True(t, ok)

	// The resumed operation passes the gate on its own merits too.
	decision, err = g.Check(context.Background(), "tok", "user-1", "GENERATE_RECOVERY_CODES", "/settings")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// But the marker is spent.
	ok, err = g.ConsumeReturn(context.Background(), "user-1", "GENERATE_RECOVERY_CODES")
	require.NoError(t, err)
	assert.False(t, ok)
}
