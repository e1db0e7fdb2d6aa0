package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "stepup/pkg/domain-errors"
)

func TestUntilSucceedsOnPredicate(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, 10, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilTimesOut(t *testing.T) {
	calls := 0
	err := Until(context.Background(), time.Millisecond, 4, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimedOut))
	assert.Equal(t, 4, calls)
}

func TestUntilPropagatesPredicateError(t *testing.T) {
	boom := errors.New("boom")
	err := Until(context.Background(), time.Millisecond, 10, func(ctx context.Context) (bool, error) {
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestUntilHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, time.Hour, 10, func(ctx context.Context) (bool, error) {
		t.Fatal("predicate must not run after cancellation")
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilZeroAttempts(t *testing.T) {
	err := Until(context.Background(), time.Millisecond, 0, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimedOut))
}
