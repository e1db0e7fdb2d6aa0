// Package poll consolidates the completion-polling loop shared by the
// WebAuthn and TOTP ceremony paths.
package poll

import (
	"context"
	"time"

	dErrors "stepup/pkg/domain-errors"
)

// Predicate reports whether the awaited condition holds. Errors abort the
// poll immediately; they are not retried here.
type Predicate func(ctx context.Context) (bool, error)

// Until evaluates fn every interval until it reports true, the attempt
// ceiling is exhausted (CodeTimedOut), or ctx is cancelled. The first
// evaluation happens after one interval, matching the ceremony contract of
// giving the provider a beat to settle before re-querying.
func Until(ctx context.Context, interval time.Duration, maxAttempts int, fn Predicate) error {
	if maxAttempts <= 0 {
		return dErrors.New(dErrors.CodeTimedOut, "polling ceiling exhausted")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return dErrors.New(dErrors.CodeTimedOut, "polling ceiling exhausted")
}
