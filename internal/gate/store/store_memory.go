package store

import (
	"context"
	"sync"
	"time"

	"stepup/internal/gate"
)

// Memory is an in-memory MarkerStore for single-instance deployments and
// tests. Expiry is enforced on read.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	markers map[string]gate.PendingAuthMarker
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock injects a clock; tests use it to age markers deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a memory store whose markers expire after ttl.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:     ttl,
		now:     time.Now,
		markers: make(map[string]gate.PendingAuthMarker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func markerKey(userID, operationName string) string {
	return userID + "\x00" + operationName
}

// Put writes the marker, replacing any previous one for the same pair.
func (m *Memory) Put(ctx context.Context, userID string, marker gate.PendingAuthMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[markerKey(userID, marker.OperationName)] = marker
	return nil
}

// Consume atomically reads and deletes the marker for the pair.
func (m *Memory) Consume(ctx context.Context, userID, operationName string) (*gate.PendingAuthMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := markerKey(userID, operationName)
	marker, ok := m.markers[key]
	if !ok {
		return nil, nil
	}
	delete(m.markers, key)

	if marker.Expired(m.now(), m.ttl) {
		return nil, nil
	}
	return &marker, nil
}
