// Package metrics exposes Prometheus instruments for the decision engine
// and the escalation flows.
//
// All methods are safe on a nil *Metrics, so components can treat metrics
// as optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

const namespace = "opstower"

// Metrics holds the engine's instruments on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	buildInfo    *prometheus.GaugeVec
	decisions    *prometheus.CounterVec
	denials      *prometheus.CounterVec
	evalDuration prometheus.Histogram
	errored      prometheus.Counter
	cacheLookups *prometheus.CounterVec
	grants       *prometheus.CounterVec
	approvals    *prometheus.CounterVec
	challenges   *prometheus.CounterVec
}

// New registers the instruments on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build and instance information.",
		}, []string{"version", "instance_id"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Policy decisions by outcome and action.",
		}, []string{"decision", "action"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Denials by the check that decided them.",
		}, []string{"check"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "policy_evaluation_duration_seconds",
			Help:      "Policy evaluation latency in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		errored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_evaluation_errors_total",
			Help:      "Evaluations that failed closed on a system error.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_cache_lookups_total",
			Help:      "Decision cache lookups by result.",
		}, []string{"result"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Temporary grant lifecycle events.",
		}, []string{"event"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_transitions_total",
			Help:      "Approval request transitions.",
		}, []string{"transition"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_challenges_total",
			Help:      "MFA challenges by outcome.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.buildInfo, m.decisions, m.denials, m.evalDuration, m.errored,
		m.cacheLookups, m.grants, m.approvals, m.challenges)
	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// SetBuildInfo sets build_info{version, instance_id} to 1.
func (m *Metrics) SetBuildInfo(version, instanceID string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, instanceID).Set(1)
}

// ObserveDecision counts one evaluation. check names the step that denied
// it and is ignored for allows.
func (m *Metrics) ObserveDecision(action model.Permission, d model.PolicyDecision, check string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Decision), string(action)).Inc()
	if !d.Allowed() {
		m.denials.WithLabelValues(check).Inc()
	}
	if d.Metadata.Errored {
		m.errored.Inc()
	}
	m.evalDuration.Observe(elapsed.Seconds())
}

// CacheHit counts a decision served from cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss counts a decision that had to be evaluated.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// GrantEvent counts a grant issue or revoke.
func (m *Metrics) GrantEvent(event string) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(event).Inc()
}

// ApprovalTransition counts an approval request state change.
func (m *Metrics) ApprovalTransition(transition string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(transition).Inc()
}

// ChallengeOutcome counts an MFA challenge result.
func (m *Metrics) ChallengeOutcome(status model.ChallengeStatus) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(string(status)).Inc()
}

// RegisterAuditCounters exposes the async audit writer's counters.
func (m *Metrics) RegisterAuditCounters(written, dropped func() int64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_written_total",
			Help:      "Audit records persisted by the async writer.",
		}, func() float64 { return float64(written()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_dropped_total",
			Help:      "Audit records dropped because the buffer was full.",
		}, func() float64 { return float64(dropped()) }),
	)
}
