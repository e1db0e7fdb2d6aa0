package webauthn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"stepup/internal/ceremony/guard"
	"stepup/internal/ceremony/poll"
	"stepup/internal/flow"
	"stepup/internal/platform/metrics"
	"stepup/internal/session"
	dErrors "stepup/pkg/domain-errors"
)

// State names the ceremony phase. Transitions are strictly forward; any
// exit, success or not, returns the orchestrator to StateIdle.
type State int

const (
	StateIdle State = iota
	StateFlowFetched
	StateChallengeReady
	StateAwaitingUserGesture
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlowFetched:
		return "flow_fetched"
	case StateChallengeReady:
		return "challenge_ready"
	case StateAwaitingUserGesture:
		return "awaiting_user_gesture"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Node and field names of the provider's webauthn settings UI.
const (
	triggerNodeName  = "webauthn_register_trigger"
	removeNodeName   = "webauthn_remove"
	registerField    = "webauthn_register"
	displayNameField = "webauthn_register_displayname"
	methodField      = "method"
	methodWebAuthn   = "webauthn"
)

// FlowService is the slice of the flow negotiator the orchestrator uses.
type FlowService interface {
	Fetch(ctx context.Context, sessionToken string) (*flow.SettingsFlow, error)
	SubmitWithRetry(ctx context.Context, sessionToken string, f *flow.SettingsFlow, fields map[string]string) (*flow.Result, error)
}

// SessionSource reads and refreshes the cached session.
type SessionSource interface {
	Current(ctx context.Context, sessionToken string) (*session.Session, error)
	Refresh(ctx context.Context, sessionToken string) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPolling overrides the confirmation poll cadence and ceiling.
func WithPolling(interval, ceiling time.Duration) Option {
	return func(o *Orchestrator) {
		o.pollInterval = interval
		o.pollCeiling = ceiling
	}
}

// WithChallengeTTL bounds how long a begun two-phase ceremony may stay open.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.challengeTTL = ttl }
}

// Orchestrator runs passkey ceremonies. One ceremony at a time: a second
// Register while one is live fails with ceremony_in_progress rather than
// queueing, because two concurrent creation prompts cannot both be valid
// against the same flow.
type Orchestrator struct {
	flows    FlowService
	sessions SessionSource
	auth     Authenticator
	client   *http.Client
	rpHost   string

	pollInterval time.Duration
	pollCeiling  time.Duration
	challengeTTL time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	state   State
	pending map[string]*pendingCeremony
}

// pendingCeremony is a begun two-phase ceremony waiting for its attestation.
type pendingCeremony struct {
	flow      *flow.SettingsFlow
	createdAt time.Time
}

// NewOrchestrator wires a ceremony orchestrator. client is the HTTP client
// the flow negotiator submits through; the navigation guard is installed on
// it for the duration of each ceremony. rpHost is the provider host, the
// only host redirects may target mid-ceremony.
func NewOrchestrator(flows FlowService, sessions SessionSource, auth Authenticator, client *http.Client, rpHost string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		flows:        flows,
		sessions:     sessions,
		auth:         auth,
		client:       client,
		rpHost:       rpHost,
		pollInterval: time.Second,
		pollCeiling:  2 * time.Minute,
		challengeTTL: 5 * time.Minute,
		logger:       slog.Default(),
		metrics:      nil,
		now:          time.Now,
		pending:      make(map[string]*pendingCeremony),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current ceremony phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// begin claims the single ceremony slot.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	// An abandoned two-phase ceremony must not hold the slot past its TTL.
	if o.state == StateAwaitingUserGesture {
		o.prunePendingLocked()
		if len(o.pending) == 0 {
			o.state = StateIdle
		}
	}
	if o.state != StateIdle {
		return dErrors.New(dErrors.CodeCeremonyInProgress, "a passkey ceremony is already running")
	}
	o.state = StateFlowFetched
	return nil
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// reset releases the ceremony slot. Deferred on every Register path so the
// orchestrator never wedges in a non-idle state.
func (o *Orchestrator) reset() {
	o.transition(StateIdle)
}

// finishPending releases the slot of a concluded two-phase ceremony. Any
// other still-pending ceremony keeps the slot in the awaiting state.
func (o *Orchestrator) finishPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prunePendingLocked()
	if len(o.pending) > 0 {
		o.state = StateAwaitingUserGesture
		return
	}
	o.state = StateIdle
}

// Register runs one full passkey creation ceremony: fetch the settings
// flow, decode the challenge, prompt the authenticator, submit the
// attestation, then poll until the session reflects the new credential.
func (o *Orchestrator) Register(ctx context.Context, sessionToken, displayName string) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.reset()

	f, opts, err := o.prepare(ctx, sessionToken)
	if err != nil {
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return err
	}

	baseline, err := o.passkeyCount(ctx, sessionToken)
	if err != nil {
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return err
	}

	// Redirects into the provider's own UI are cancelled while the ceremony
	// is live, and the guard always comes off on exit.
	release := guard.Acquire(o.client, guard.DenyHost(o.rpHost))
	defer release()

	o.transition(StateAwaitingUserGesture)
	cred, err := o.auth.Create(*opts)
	if err != nil {
		if errors.Is(err, ErrNotAllowed) {
			o.metrics.IncCeremonyOutcome("webauthn_register", "cancelled")
			o.logger.InfoContext(ctx, "passkey ceremony cancelled by user")
			return dErrors.New(dErrors.CodeUserCancelled, "passkey creation was cancelled")
		}
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return dErrors.Wrap(dErrors.CodeInternal, "authenticator failed", err)
	}

	if err := o.submitAttestation(ctx, sessionToken, f, cred, displayName); err != nil {
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return err
	}

	o.transition(StatePolling)
	if err := o.awaitCredentialGrowth(ctx, sessionToken, baseline); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimedOut) {
			o.metrics.IncCeremonyOutcome("webauthn_register", "timeout")
		} else {
			o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		}
		return err
	}

	o.metrics.IncCeremonyOutcome("webauthn_register", "success")
	o.logger.InfoContext(ctx, "passkey registered", "display_name", displayName)
	return nil
}

// prepare fetches the settings flow and derives creation options with the
// exclusion list already merged.
func (o *Orchestrator) prepare(ctx context.Context, sessionToken string) (*flow.SettingsFlow, *CreationOptions, error) {
	f, err := o.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return nil, nil, err
	}
	o.transition(StateFlowFetched)

	trigger, ok := f.FindNode(flow.GroupWebAuthn, triggerNodeName)
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeNotEligible, "passkey registration is not available for this account")
	}

	opts, err := parseCreationOptions(trigger.Value())
	if err != nil {
		return nil, nil, err
	}
	if err := o.mergeExclusions(ctx, sessionToken, opts); err != nil {
		return nil, nil, err
	}
	o.transition(StateChallengeReady)
	return f, opts, nil
}

// mergeExclusions unions the provider-supplied exclusion list with the
// passkeys the cached session already knows, so a stale flow cannot let the
// authenticator re-register an existing credential.
func (o *Orchestrator) mergeExclusions(ctx context.Context, sessionToken string, opts *CreationOptions) error {
	s, err := o.sessions.Current(ctx, sessionToken)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(opts.ExcludeCredentialIDs))
	for _, id := range opts.ExcludeCredentialIDs {
		seen[string(id)] = struct{}{}
	}
	for _, c := range s.CredentialsOfKind(session.KindPasskey) {
		raw, err := decodeCredentialID(c.ID)
		if err != nil {
			continue
		}
		if _, dup := seen[string(raw)]; dup {
			continue
		}
		seen[string(raw)] = struct{}{}
		opts.ExcludeCredentialIDs = append(opts.ExcludeCredentialIDs, raw)
	}
	return nil
}

// submitAttestation posts the attestation through the flow, surfacing
// provider validation messages verbatim.
func (o *Orchestrator) submitAttestation(ctx context.Context, sessionToken string, f *flow.SettingsFlow, cred *Credential, displayName string) error {
	payload, err := encodeAttestation(cred)
	if err != nil {
		return err
	}
	fields := map[string]string{
		methodField:      methodWebAuthn,
		registerField:    payload,
		displayNameField: displayName,
	}
	res, err := o.flows.SubmitWithRetry(ctx, sessionToken, f, fields)
	if err != nil {
		return err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		return dErrors.New(dErrors.CodeValidationRejected, "passkey registration rejected").WithMessages(texts)
	}
	return nil
}

// awaitCredentialGrowth polls the refreshed session until the passkey count
// exceeds the pre-ceremony baseline.
func (o *Orchestrator) awaitCredentialGrowth(ctx context.Context, sessionToken string, baseline int) error {
	attempts := int(o.pollCeiling / o.pollInterval)
	return poll.Until(ctx, o.pollInterval, attempts, func(ctx context.Context) (bool, error) {
		if err := o.sessions.Refresh(ctx, sessionToken); err != nil {
			return false, err
		}
		count, err := o.passkeyCount(ctx, sessionToken)
		if err != nil {
			return false, err
		}
		return count > baseline, nil
	})
}

func (o *Orchestrator) passkeyCount(ctx context.Context, sessionToken string) (int, error) {
	s, err := o.sessions.Current(ctx, sessionToken)
	if err != nil {
		return 0, err
	}
	return len(s.CredentialsOfKind(session.KindPasskey)), nil
}

// Remove unlinks a passkey through the settings flow and refreshes the
// session so the projection drops it immediately.
func (o *Orchestrator) Remove(ctx context.Context, sessionToken, credentialID string) error {
	f, err := o.flows.Fetch(ctx, sessionToken)
	if err != nil {
		return err
	}

	var found bool
	for _, node := range f.NodesInGroup(flow.GroupWebAuthn) {
		if node.Name() == removeNodeName && node.Value() == credentialID {
			found = true
			break
		}
	}
	if !found {
		return dErrors.New(dErrors.CodeNotFound, "no such passkey")
	}

	res, err := o.flows.SubmitWithRetry(ctx, sessionToken, f, map[string]string{
		removeNodeName: credentialID,
	})
	if err != nil {
		return err
	}
	if texts := res.ErrorTexts(); len(texts) > 0 {
		return dErrors.New(dErrors.CodeValidationRejected, "passkey removal rejected").WithMessages(texts)
	}
	if err := o.sessions.Refresh(ctx, sessionToken); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "passkey removed", "credential_id", credentialID)
	return nil
}

// List returns the session's current passkey projection.
func (o *Orchestrator) List(ctx context.Context, sessionToken string) ([]session.Credential, error) {
	s, err := o.sessions.Current(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return s.CredentialsOfKind(session.KindPasskey), nil
}

// ChallengeBundle is the first half of a two-phase ceremony: the decoded
// creation options plus the handle the caller returns with the attestation.
type ChallengeBundle struct {
	ChallengeID string
	Options     *CreationOptions
}

// BeginRegistration starts a two-phase ceremony for callers that run the
// authenticator out of process. The returned challenge expires after the
// configured TTL.
func (o *Orchestrator) BeginRegistration(ctx context.Context, sessionToken string) (*ChallengeBundle, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}

	f, opts, err := o.prepare(ctx, sessionToken)
	if err != nil {
		o.reset()
		return nil, err
	}

	id := uuid.NewString()
	o.mu.Lock()
	o.prunePendingLocked()
	o.pending[id] = &pendingCeremony{flow: f, createdAt: o.now()}
	o.state = StateAwaitingUserGesture
	o.mu.Unlock()

	return &ChallengeBundle{ChallengeID: id, Options: opts}, nil
}

// FinishRegistration completes a two-phase ceremony begun with
// BeginRegistration.
func (o *Orchestrator) FinishRegistration(ctx context.Context, sessionToken, challengeID, displayName string, cred *Credential) error {
	o.mu.Lock()
	pc, found := o.pending[challengeID]
	expired := false
	if found {
		delete(o.pending, challengeID)
		expired = o.now().Sub(pc.createdAt) > o.challengeTTL
	}
	o.mu.Unlock()

	// An unknown challenge never owned the ceremony slot; releasing it here
	// would cut short whichever ceremony does.
	if !found {
		o.metrics.IncCeremonyOutcome("webauthn_register", "timeout")
		return dErrors.New(dErrors.CodeTimedOut, "ceremony challenge expired")
	}
	defer o.finishPending()
	if expired {
		o.metrics.IncCeremonyOutcome("webauthn_register", "timeout")
		return dErrors.New(dErrors.CodeTimedOut, "ceremony challenge expired")
	}

	baseline, err := o.passkeyCount(ctx, sessionToken)
	if err != nil {
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return err
	}

	release := guard.Acquire(o.client, guard.DenyHost(o.rpHost))
	defer release()

	if err := o.submitAttestation(ctx, sessionToken, pc.flow, cred, displayName); err != nil {
		o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		return err
	}

	o.transition(StatePolling)
	if err := o.awaitCredentialGrowth(ctx, sessionToken, baseline); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimedOut) {
			o.metrics.IncCeremonyOutcome("webauthn_register", "timeout")
		} else {
			o.metrics.IncCeremonyOutcome("webauthn_register", "error")
		}
		return err
	}

	o.metrics.IncCeremonyOutcome("webauthn_register", "success")
	return nil
}

// Cancel abandons an open two-phase ceremony. Idempotent.
func (o *Orchestrator) Cancel(challengeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[challengeID]; ok {
		delete(o.pending, challengeID)
		o.state = StateIdle
	}
}

// prunePendingLocked drops expired two-phase ceremonies. Caller holds o.mu.
func (o *Orchestrator) prunePendingLocked() {
	cutoff := o.now().Add(-o.challengeTTL)
	for id, pc := range o.pending {
		if pc.createdAt.Before(cutoff) {
			delete(o.pending, id)
		}
	}
}
