// Package totp drives authenticator-app enrollment through the provider's
// settings flow. The secret lives only inside the provider flow; this
// package never stores or derives TOTP material itself.
package totp

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"stepup/internal/flow"
	"stepup/internal/platform/metrics"
	dErrors "stepup/pkg/domain-errors"
)

// Node and field names of the provider's totp settings UI.
const (
	qrNodeName     = "totp_qr"
	secretNodeName = "totp_secret_key"
	codeField      = "totp_code"
	unlinkField    = "totp_unlink"
	methodField    = "method"
	methodTOTP     = "totp"
)

// codePattern is checked before any network call so an obviously malformed
// code never consumes a flow submission.
var codePattern = regexp.MustCompile(`^\d{6}$`)

// FlowService is the slice of the flow negotiator the controller uses.
type FlowService interface {
	Fetch(ctx context.Context, sessionToken string) (*flow.SettingsFlow, error)
	SubmitWithRetry(ctx context.Context, sessionToken string, f *flow.SettingsFlow, fields map[string]string) (*flow.Result, error)
}

// SessionRefresher re-reads the provider session after enrollment changes.
type SessionRefresher interface {
	Refresh(ctx context.Context, sessionToken string) error
}

// Enrollment is the provisioning material for a begun TOTP enrollment. The
// QR code and secret render the same pending secret; confirming any other
// flow would bind a different secret than the one the user scanned.
type Enrollment struct {
	FlowID        string
	QRCodeDataURL string
	SecretKey     string
}

// ConfirmResult reports a completed enrollment. RecoveryCodes is non-empty
// only when the provider revealed fresh one-time codes alongside the
// confirmation; they cannot be read again.
type ConfirmResult struct {
	RecoveryCodes []string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEnrollmentTTL bounds how long a begun enrollment stays confirmable.
func WithEnrollmentTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.ttl = ttl }
}

// Controller runs TOTP enrollment. A begun enrollment is pinned to its
// settings flow: confirmation must land on the flow that issued the secret.
type Controller struct {
	flows    FlowService
	sessions SessionRefresher
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingEnrollment
}

type pendingEnrollment struct {
	flow      *flow.SettingsFlow
	createdAt time.Time
}

// NewController wires a TOTP enrollment controller.
func NewController(flows FlowService, sessions SessionRefresher, opts ...Option) *Controller {
	c := &Controller{
		flows:    flows,
		sessions: sessions,
		ttl:      10 * time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
		pending:  make(map[string]*pendingEnrollment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin fetches a settings flow and extracts the provisioning material. The
// flow is retained so Confirm binds the same pending secret.
func (c *Controller) Begin(ctx context.Context, sessionToken string) (*Enrollment, error) {
	f, err := c.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	qrNode, qrOK := f.FindNode(flow.GroupTOTP, qrNodeName)
	secretNode, secretOK := f.FindNode(flow.GroupTOTP, secretNodeName)
	if !qrOK && !secretOK {
		// Already enrolled accounts get an unlink node instead.
		if _, unlinkable := f.FindNode(flow.GroupTOTP, unlinkField); unlinkable {
			return nil, dErrors.New(dErrors.CodeNotEligible, "an authenticator app is already linked")
		}
		// Some provider configurations only issue the secret once the totp
		// method is selected.
		f, qrNode, secretNode, err = c.provokeIssuance(ctx, sessionToken, f)
		if err != nil {
			return nil, err
		}
	}

	enrollment := &Enrollment{
		FlowID:        f.ID,
		QRCodeDataURL: imageSource(qrNode),
		SecretKey:     textContent(secretNode),
	}

	c.mu.Lock()
	c.prunePendingLocked()
	c.pending[sessionToken] = &pendingEnrollment{flow: f, createdAt: c.now()}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "totp enrollment started", "flow_id", f.ID)
	return enrollment, nil
}

// provokeIssuance selects the totp method on a flow that carries no pending
// secret yet and re-reads the provisioning nodes from the continuation.
func (c *Controller) provokeIssuance(ctx context.Context, sessionToken string, f *flow.SettingsFlow) (*flow.SettingsFlow, flow.Node, flow.Node, error) {
	var none flow.Node
	res, err := c.flows.SubmitWithRetry(ctx, sessionToken, f, map[string]string{
		methodField: methodTOTP,
	})
	if err != nil {
		return nil, none, none, err
	}
	if res.Continue == nil {
		return nil, none, none, dErrors.New(dErrors.CodeNotEligible, "authenticator app enrollment is not available for this account")
	}
	next := res.Continue
	qrNode, qrOK := next.FindNode(flow.GroupTOTP, qrNodeName)
	secretNode, secretOK := next.FindNode(flow.GroupTOTP, secretNodeName)
	if !qrOK && !secretOK {
		return nil, none, none, dErrors.New(dErrors.CodeNotEligible, "authenticator app enrollment is not available for this account")
	}
	return next, qrNode, secretNode, nil
}

// Confirm submits the user's six digit code against the begun enrollment.
// Provider validation messages come back verbatim so the user sees the same
// wording the provider chose.
func (c *Controller) Confirm(ctx context.Context, sessionToken, code string) (*ConfirmResult, error) {
	if !codePattern.MatchString(code) {
		return nil, dErrors.New(dErrors.CodeValidationRejected, "code must be exactly six digits")
	}

	c.mu.Lock()
	pe, ok := c.pending[sessionToken]
	if ok {
		delete(c.pending, sessionToken)
		if c.now().Sub(pe.createdAt) > c.ttl {
			ok = false
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, "no enrollment in progress; begin again")
	}

	res, err := c.flows.SubmitWithRetry(ctx, sessionToken, pe.flow, map[string]string{
		methodField: methodTOTP,
		codeField:   code,
	})
	if err != nil {
		c.metrics.IncCeremonyOutcome("totp_enroll", "error")
		return nil, err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		// The flow survives a wrong code; keep it so the user can retry
		// without re-scanning.
		c.mu.Lock()
		retained := pe.flow
		if res.Continue != nil {
			retained = res.Continue
		}
		c.pending[sessionToken] = &pendingEnrollment{flow: retained, createdAt: pe.createdAt}
		c.mu.Unlock()
		c.metrics.IncCeremonyOutcome("totp_enroll", "rejected")
		return nil, dErrors.New(dErrors.CodeValidationRejected, "authenticator code rejected").WithMessages(texts)
	}

	result := &ConfirmResult{}
	if res.Continue != nil {
		result.RecoveryCodes = res.Continue.RevealedLookupCodes()
	}

	if err := c.sessions.Refresh(ctx, sessionToken); err != nil {
		return nil, err
	}
	c.metrics.IncCeremonyOutcome("totp_enroll", "success")
	c.logger.InfoContext(ctx, "totp enrollment confirmed")
	return result, nil
}

// Disable unlinks the authenticator app.
func (c *Controller) Disable(ctx context.Context, sessionToken string) error {
	f, err := c.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return err
	}
	if _, ok := f.FindNode(flow.GroupTOTP, unlinkField); !ok {
		return dErrors.New(dErrors.CodeNotEligible, "no authenticator app is linked")
	}

	res, err := c.flows.SubmitWithRetry(ctx, sessionToken, f, map[string]string{
		methodField: methodTOTP,
		unlinkField: "true",
	})
	if err != nil {
		return err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		return dErrors.New(dErrors.CodeValidationRejected, "unlink rejected").WithMessages(texts)
	}
	if err := c.sessions.Refresh(ctx, sessionToken); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "totp unlinked")
	return nil
}

// Abandon drops a begun enrollment without confirming it.
func (c *Controller) Abandon(sessionToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, sessionToken)
}

// prunePendingLocked drops expired enrollments. Caller holds c.mu.
func (c *Controller) prunePendingLocked() {
	cutoff := c.now().Add(-c.ttl)
	for tok, pe := range c.pending {
		if pe.createdAt.Before(cutoff) {
			delete(c.pending, tok)
		}
	}
}

// imageSource pulls the data URL off a QR image node.
func imageSource(n flow.Node) string {
	if src := n.Attributes.String("src"); src != "" {
		return src
	}
	return n.Value()
}

// textContent pulls the rendered text off a text node.
func textContent(n flow.Node) string {
	if text, ok := n.Attributes["text"].(map[string]any); ok {
		if s, ok := text["text"].(string); ok {
			return s
		}
	}
	return n.Value()
}
