// Package store persists pending step-up markers. The durable store survives
// gateway restarts (Redis); the memory store serves single-instance and test
// deployments.
package store

import (
	"context"

	"stepup/internal/gate"
)

// MarkerStore holds at most one pending marker per (user, operation) pair.
type MarkerStore interface {
	// Put writes the marker, replacing any previous one for the same pair.
	Put(ctx context.Context, userID string, marker gate.PendingAuthMarker) error
	// Consume atomically reads and deletes the marker for the pair. It
	// returns nil when no live marker exists; expired markers are deleted
	// and reported as absent.
	Consume(ctx context.Context, userID, operationName string) (*gate.PendingAuthMarker, error)
}
