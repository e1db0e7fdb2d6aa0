package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics shared across the gateway.
type Metrics struct {
	FlowRequestDuration *prometheus.HistogramVec
	CeremonyOutcomes    *prometheus.CounterVec
	GateDecisions       *prometheus.CounterVec
	MarkersConsumed     prometheus.Counter
	MarkersExpired      prometheus.Counter
	SessionRefreshes    prometheus.Counter
	RequestLatency      *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		FlowRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepup_flow_request_duration_seconds",
			Help:    "Latency of settings-flow fetch and submit calls against the provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		CeremonyOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stepup_ceremony_outcomes_total",
			Help: "Enrollment ceremony terminal outcomes by kind and result",
		}, []string{"kind", "outcome"}),
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stepup_gate_decisions_total",
			Help: "Tiered operation gate decisions by operation and verdict",
		}, []string{"operation", "verdict"}),
		MarkersConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stepup_pending_markers_consumed_total",
			Help: "Pending step-up markers consumed on return navigation",
		}),
		MarkersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stepup_pending_markers_expired_total",
			Help: "Pending step-up markers found expired on return navigation",
		}),
		SessionRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stepup_session_refreshes_total",
			Help: "Authoritative session refreshes against the provider",
		}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepup_http_request_duration_seconds",
			Help:    "Latency of gateway REST endpoints",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
}

// ObserveFlowRequest records the duration of one provider round-trip.
func (m *Metrics) ObserveFlowRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.FlowRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncCeremonyOutcome records a terminal ceremony outcome.
func (m *Metrics) IncCeremonyOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.CeremonyOutcomes.WithLabelValues(kind, outcome).Inc()
}

// IncGateDecision records a gate verdict for an operation.
func (m *Metrics) IncGateDecision(operation, verdict string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(operation, verdict).Inc()
}

// IncMarkerConsumed records a single-use marker consumption.
func (m *Metrics) IncMarkerConsumed() {
	if m == nil {
		return
	}
	m.MarkersConsumed.Inc()
}

// IncMarkerExpired records a marker found past its expiry window.
func (m *Metrics) IncMarkerExpired() {
	if m == nil {
		return
	}
	m.MarkersExpired.Inc()
}

// IncSessionRefresh records an authoritative session refresh.
func (m *Metrics) IncSessionRefresh() {
	if m == nil {
		return
	}
	m.SessionRefreshes.Inc()
}
