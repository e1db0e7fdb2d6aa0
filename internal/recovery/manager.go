// Package recovery manages one-time lookup codes through the provider's
// settings flow. Every operation runs through the tiered gate first; the
// codes themselves are never stored on this side.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"stepup/internal/flow"
	"stepup/internal/gate"
	"stepup/internal/platform/metrics"
	"stepup/internal/session"
	dErrors "stepup/pkg/domain-errors"
)

// Operation names registered with the gate. Tiers are assigned where the
// registry is built, not here.
const (
	OpViewCodes     = "VIEW_RECOVERY_CODES"
	OpGenerateCodes = "GENERATE_RECOVERY_CODES"
	OpRevokeCodes   = "REVOKE_RECOVERY_CODES"
)

// Field names of the provider's lookup-secret settings UI.
const (
	regenerateField = "lookup_secret_regenerate"
	confirmField    = "lookup_secret_confirm"
	revealField     = "lookup_secret_reveal"
	disableField    = "lookup_secret_disable"
)

// StepUpRequiredError reports a gate denial together with the step-up entry
// point the caller must visit before retrying.
type StepUpRequiredError struct {
	Operation string
	URL       string
}

func (e *StepUpRequiredError) Error() string {
	return fmt.Sprintf("operation %s requires step-up authentication", e.Operation)
}

// FlowService is the slice of the flow negotiator the manager uses.
type FlowService interface {
	Fetch(ctx context.Context, sessionToken string) (*flow.SettingsFlow, error)
	SubmitWithRetry(ctx context.Context, sessionToken string, f *flow.SettingsFlow, fields map[string]string) (*flow.Result, error)
}

// Gatekeeper decides tier sufficiency for named operations.
type Gatekeeper interface {
	Check(ctx context.Context, sessionToken, userID, operationName, returnTo string) (gate.Decision, error)
}

// SessionSource reads and refreshes the cached session.
type SessionSource interface {
	Current(ctx context.Context, sessionToken string) (*session.Session, error)
	Refresh(ctx context.Context, sessionToken string) error
}

// Status describes the account's recovery-code standing.
type Status struct {
	Enrolled bool
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

// Manager runs recovery-code operations behind the gate.
type Manager struct {
	flows    FlowService
	gate     Gatekeeper
	sessions SessionSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager wires a recovery code manager.
func NewManager(flows FlowService, gatekeeper Gatekeeper, sessions SessionSource, opts ...Option) *Manager {
	m := &Manager{
		flows:    flows,
		gate:     gatekeeper,
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// authorize runs the gate and converts a denial into a step-up error.
func (m *Manager) authorize(ctx context.Context, sessionToken, userID, operation, returnTo string) error {
	decision, err := m.gate.Check(ctx, sessionToken, userID, operation, returnTo)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &StepUpRequiredError{Operation: operation, URL: decision.RedirectURL}
	}
	return nil
}

// Status reports whether recovery codes are set up. Gated so even the
// existence of codes requires a second factor to learn.
func (m *Manager) Status(ctx context.Context, sessionToken, userID, returnTo string) (*Status, error) {
	if err := m.authorize(ctx, sessionToken, userID, OpViewCodes, returnTo); err != nil {
		return nil, err
	}
	s, err := m.sessions.Current(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return &Status{Enrolled: s.HasCredential(session.KindRecovery)}, nil
}

// Generate regenerates the account's recovery codes and returns the fresh
// batch. The provider decides the batch size; a non-zero count that does not
// match it is rejected before the batch is confirmed, leaving the prior set
// intact. Confirmed codes replace any prior set and cannot be read back
// after this call.
func (m *Manager) Generate(ctx context.Context, sessionToken, userID, returnTo string, count int) ([]string, error) {
	if err := m.authorize(ctx, sessionToken, userID, OpGenerateCodes, returnTo); err != nil {
		return nil, err
	}

	f, err := m.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	res, err := m.flows.SubmitWithRetry(ctx, sessionToken, f, map[string]string{
		regenerateField: "true",
	})
	if err != nil {
		return nil, err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		return nil, dErrors.New(dErrors.CodeValidationRejected, "code generation rejected").WithMessages(texts)
	}
	if res.Continue == nil {
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, "provider did not reveal generated codes")
	}

	codes := res.Continue.RevealedLookupCodes()
	if len(codes) == 0 {
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, "provider did not reveal generated codes")
	}

	// The batch size is the provider's, not ours. An unconfirmed regenerate
	// has no effect, so bailing out here keeps the prior codes valid.
	if count != 0 && count != len(codes) {
		return nil, dErrors.New(dErrors.CodeValidationRejected,
			fmt.Sprintf("provider issues fixed batches of %d codes", len(codes)))
	}

	// Regenerated codes are provisional until confirmed.
	confirm, err := m.flows.SubmitWithRetry(ctx, sessionToken, res.Continue, map[string]string{
		confirmField: "true",
	})
	if err != nil {
		return nil, err
	}
	if texts := confirm.ErrorTexts(); len(texts) > 0 {
		return nil, dErrors.New(dErrors.CodeValidationRejected, "code confirmation rejected").WithMessages(texts)
	}

	if err := m.sessions.Refresh(ctx, sessionToken); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "recovery codes regenerated", "count", len(codes))
	return codes, nil
}

// RevokeAll disables recovery codes for the account.
func (m *Manager) RevokeAll(ctx context.Context, sessionToken, userID, returnTo string) error {
	if err := m.authorize(ctx, sessionToken, userID, OpRevokeCodes, returnTo); err != nil {
		return err
	}

	f, err := m.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return err
	}
	if _, ok := f.FindNode(flow.GroupLookupSecret, disableField); !ok {
		return dErrors.New(dErrors.CodeNotEligible, "no recovery codes are set up")
	}
	res, err := m.flows.SubmitWithRetry(ctx, sessionToken, f, map[string]string{
		disableField: "true",
	})
	if err != nil {
		return err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		return dErrors.New(dErrors.CodeValidationRejected, "code revocation rejected").WithMessages(texts)
	}
	if err := m.sessions.Refresh(ctx, sessionToken); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "recovery codes revoked")
	return nil
}
