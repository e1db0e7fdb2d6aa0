// Package gate maps named operations onto required trust tiers and, when the
// caller's session falls short, persists a resumable step-up marker and
// points the caller at the step-up entry point.
package gate

import (
	"fmt"
	"time"
)

// Tier is the gateway's coarse trust classification of a session.
// Tier1 admits any authenticated session; Tier4 demands dual-factor, fresh.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
	Tier4 Tier = 4
)

// IsValid reports whether t is one of the four defined tiers.
func (t Tier) IsValid() bool {
	return t >= Tier1 && t <= Tier4
}

func (t Tier) String() string {
	return fmt.Sprintf("tier%d", int(t))
}

// Operation is one named, tier-gated action. Immutable configuration.
type Operation struct {
	Name         string
	RequiredTier Tier
}

// Registry is the immutable operation table consulted by the gate.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry builds a registry from the given operations. Duplicate names
// and invalid tiers are configuration mistakes and fail construction.
func NewRegistry(ops ...Operation) (*Registry, error) {
	table := make(map[string]Operation, len(ops))
	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("operation name is required")
		}
		if !op.RequiredTier.IsValid() {
			return nil, fmt.Errorf("operation %q: invalid tier %d", op.Name, op.RequiredTier)
		}
		if _, exists := table[op.Name]; exists {
			return nil, fmt.Errorf("operation %q registered twice", op.Name)
		}
		table[op.Name] = op
	}
	return &Registry{ops: table}, nil
}

// Lookup returns the operation for name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// PendingAuthMarker records that a tiered operation was interrupted for
// step-up authentication. It proves past insufficiency only; the tier must
// be re-checked when the marker is consumed.
type PendingAuthMarker struct {
	OperationName string    `json:"operation_name"`
	CreatedAt     time.Time `json:"created_at"`
	ReturnTo      string    `json:"return_to"`
}

// Expired reports whether the marker is older than the given window at now.
func (m PendingAuthMarker) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(m.CreatedAt) > window
}

// Decision is the gate's verdict for one operation attempt.
type Decision struct {
	Allowed bool `json:"allowed"`
	// RedirectURL is set when a step-up is required; the caller must abort
	// the in-progress action and navigate there.
	RedirectURL string `json:"redirect_url,omitempty"`
}
