package flow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stepup/internal/platform/metrics"
	dErrors "stepup/pkg/domain-errors"
)

const (
	settingsPath       = "/self-service/settings/browser"
	sessionTokenHeader = "X-Session-Token"
)

// Doer abstracts the HTTP transport so ceremonies and tests can inject one.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Negotiator fetches and submits settings flows against the provider. It
// never caches flows: each ceremony owns the flow it fetched.
type Negotiator struct {
	baseURL string
	client  Doer
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Negotiator.
type Option func(*Negotiator)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Negotiator) {
		n.metrics = m
	}
}

// NewNegotiator constructs a Negotiator for the given provider base URL.
func NewNegotiator(baseURL string, client Doer, opts ...Option) *Negotiator {
	n := &Negotiator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  slog.Default(),
		tracer:  otel.Tracer("stepup/internal/flow"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fetch retrieves a fresh settings flow for the session identified by token.
func (n *Negotiator) Fetch(ctx context.Context, sessionToken string) (*SettingsFlow, error) {
	ctx, span := n.tracer.Start(ctx, "flow.fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+settingsPath, nil)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "build flow request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionTokenHeader, sessionToken)

	start := time.Now()
	resp, err := n.client.Do(req)
	n.metrics.ObserveFlowRequest("fetch", time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "provider unreachable", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "provider session invalid")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, "provider rejected flow fetch")
	}

	f, err := decodeFlow(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "malformed flow document", err)
	}

	n.logger.DebugContext(ctx, "settings flow fetched", "flow_id", f.ID)
	return f, nil
}

// Submit posts the given fields to the flow's action URL. The flow's CSRF
// token is always included. The returned Result is either a continuation
// flow, terminal success, or terminal rejection with provider messages.
// A stale CSRF token surfaces as CodeCSRFMismatch; use SubmitWithRetry for
// the retry-once contract.
func (n *Negotiator) Submit(ctx context.Context, sessionToken string, f *SettingsFlow, fields map[string]string) (*Result, error) {
	ctx, span := n.tracer.Start(ctx, "flow.submit")
	defer span.End()

	sub, err := BuildSubmission(f, fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, sub.Method, sub.URL, strings.NewReader(sub.Body.Encode()))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "build flow submission", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(sessionTokenHeader, sessionToken)

	start := time.Now()
	resp, err := n.client.Do(req)
	n.metrics.ObserveFlowRequest("submit", time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "provider unreachable", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	result, err := n.classify(resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// SubmitWithRetry submits, and on a CSRF mismatch re-fetches the flow and
// retries exactly once with the same fields. A second mismatch is terminal;
// retrying further would loop forever against an expired session.
func (n *Negotiator) SubmitWithRetry(ctx context.Context, sessionToken string, f *SettingsFlow, fields map[string]string) (*Result, error) {
	result, err := n.Submit(ctx, sessionToken, f, fields)
	if err == nil || !dErrors.HasCode(err, dErrors.CodeCSRFMismatch) {
		return result, err
	}

	n.logger.WarnContext(ctx, "csrf mismatch, re-fetching flow for single retry", "flow_id", f.ID)

	fresh, err := n.Fetch(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return n.Submit(ctx, sessionToken, fresh, fields)
}

// providerError is the provider's generic error envelope.
type providerError struct {
	Error struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"error"`
}

func (n *Negotiator) classify(resp *http.Response) (*Result, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeFlowUnavailable, "read provider response", err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Redirect-class completion signal.
		return &Result{Success: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f, err := decodeFlowBytes(body)
		if err != nil || len(f.UI.Nodes) == 0 {
			// Terminal success without a further challenge.
			return &Result{Success: true}, nil
		}
		if f.State == "success" {
			return &Result{Success: true, Messages: f.UI.Messages}, nil
		}
		return &Result{Continue: f, Messages: f.UI.Messages}, nil

	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusGone:
		// Stale or forged anti-forgery token, or an expired flow. Both mean
		// the flow must be re-fetched.
		return nil, dErrors.New(dErrors.CodeCSRFMismatch, "flow token stale or expired")

	case resp.StatusCode == http.StatusBadRequest:
		if isCSRFViolation(body) {
			return nil, dErrors.New(dErrors.CodeCSRFMismatch, "flow token stale or expired")
		}
		f, err := decodeFlowBytes(body)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeValidationRejected, "provider rejected submission")
		}
		return &Result{
			Success:  false,
			Continue: f,
			Messages: collectErrors(f),
		}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "provider session invalid")

	default:
		return nil, dErrors.New(dErrors.CodeFlowUnavailable, "provider rejected flow submission")
	}
}

func isCSRFViolation(body []byte) bool {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err != nil {
		return false
	}
	return pe.Error.ID == "security_csrf_violation"
}

func collectErrors(f *SettingsFlow) []Message {
	var out []Message
	for _, m := range f.UI.Messages {
		if m.Type == MessageTypeError {
			out = append(out, m)
		}
	}
	for _, node := range f.UI.Nodes {
		for _, m := range node.Messages {
			if m.Type == MessageTypeError {
				out = append(out, m)
			}
		}
	}
	return out
}

func decodeFlow(r io.Reader) (*SettingsFlow, error) {
	var f SettingsFlow
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeFlowBytes(body []byte) (*SettingsFlow, error) {
	var f SettingsFlow
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
