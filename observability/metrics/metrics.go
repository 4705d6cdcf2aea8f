// Package metrics exposes the governance-runtime's domain metrics,
// following the lazy singleton registries in the teacher's
// observability/metrics.go (ModuleMetrics, Payoutd, OracleAttesterd): one
// struct of related prometheus collectors per subsystem, built once behind
// sync.Once and registered against the default registry, with nil-receiver
// methods so a caller can pass around a *Registry that is nil in tests
// without guarding every call site.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the governance-domain collectors: proposal outcomes,
// policy denials, approval lifecycle, ledger append health, and risk
// scoring.
type Registry struct {
	proposals      *prometheus.CounterVec
	policyDecision *prometheus.CounterVec
	approvals      *prometheus.CounterVec
	approvalWait   *prometheus.HistogramVec
	ledgerAppends  *prometheus.CounterVec
	ledgerVerify   prometheus.Gauge
	riskScores     *prometheus.HistogramVec
	guardrailTrips *prometheus.CounterVec
}

var (
	once sync.Once
	reg  *Registry
)

// Default returns the lazily-initialised process-wide governance metrics
// registry, registering its collectors against prometheus's default
// registry on first use.
func Default() *Registry {
	once.Do(func() {
		reg = &Registry{
			proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "envelope",
				Name:      "proposals_total",
				Help:      "Count of action proposals segmented by cartridge and outcome.",
			}, []string{"cartridge", "outcome"}),
			policyDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "policy",
				Name:      "decisions_total",
				Help:      "Count of policy engine decisions segmented by effect.",
			}, []string{"cartridge", "effect"}),
			approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "approval",
				Name:      "resolutions_total",
				Help:      "Count of approval requests segmented by resolution.",
			}, []string{"cartridge", "resolution"}),
			approvalWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "governor",
				Subsystem: "approval",
				Name:      "wait_seconds",
				Help:      "Time an approval request spent pending before resolution.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"cartridge"}),
			ledgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "appends_total",
				Help:      "Count of audit ledger appends segmented by event type and outcome.",
			}, []string{"event_type", "outcome"}),
			ledgerVerify: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "governor",
				Subsystem: "ledger",
				Name:      "chain_valid",
				Help:      "1 if the most recent chain verification passed, 0 otherwise.",
			}),
			riskScores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "governor",
				Subsystem: "risk",
				Name:      "score",
				Help:      "Distribution of computed risk scores (0-100) segmented by category.",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			}, []string{"category"}),
			guardrailTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "governor",
				Subsystem: "guardrail",
				Name:      "trips_total",
				Help:      "Count of guardrail checks that rejected or flagged a proposal, by rule.",
			}, []string{"rule"}),
		}
		prometheus.MustRegister(
			reg.proposals,
			reg.policyDecision,
			reg.approvals,
			reg.approvalWait,
			reg.ledgerAppends,
			reg.ledgerVerify,
			reg.riskScores,
			reg.guardrailTrips,
		)
	})
	return reg
}

// RecordProposal increments the proposal counter for a cartridge/outcome
// pair (e.g. "auto_queued", "pending_approval", "denied", "executed", "failed").
func (r *Registry) RecordProposal(cartridgeID, outcome string) {
	if r == nil {
		return
	}
	r.proposals.WithLabelValues(labelOrUnknown(cartridgeID), labelOrUnknown(outcome)).Inc()
}

// RecordPolicyDecision increments the policy-decision counter for the
// effect a policy evaluation resolved to ("allow", "deny",
// "require_approval", etc).
func (r *Registry) RecordPolicyDecision(cartridgeID, effect string) {
	if r == nil {
		return
	}
	r.policyDecision.WithLabelValues(labelOrUnknown(cartridgeID), labelOrUnknown(effect)).Inc()
}

// RecordApprovalResolution increments the approval resolution counter and
// records how long the request was pending.
func (r *Registry) RecordApprovalResolution(cartridgeID, resolution string, waited time.Duration) {
	if r == nil {
		return
	}
	label := labelOrUnknown(cartridgeID)
	r.approvals.WithLabelValues(label, labelOrUnknown(resolution)).Inc()
	if waited > 0 {
		r.approvalWait.WithLabelValues(label).Observe(waited.Seconds())
	}
}

// RecordLedgerAppend increments the ledger append counter, distinguishing
// successful appends from rejected ones (e.g. chain-linkage failures).
func (r *Registry) RecordLedgerAppend(eventType string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.ledgerAppends.WithLabelValues(labelOrUnknown(eventType), outcome).Inc()
}

// SetChainValid updates the chain-verification gauge after a verify pass.
func (r *Registry) SetChainValid(valid bool) {
	if r == nil {
		return
	}
	if valid {
		r.ledgerVerify.Set(1)
		return
	}
	r.ledgerVerify.Set(0)
}

// RecordRiskScore observes a computed risk score for a category.
func (r *Registry) RecordRiskScore(category string, score float64) {
	if r == nil {
		return
	}
	r.riskScores.WithLabelValues(labelOrUnknown(category)).Observe(score)
}

// RecordGuardrailTrip increments the guardrail trip counter for a named
// rule, named by the denying check's code (e.g. "RATE_LIMIT", "COOLDOWN",
// "PROTECTED_ENTITY", "SPEND_LIMIT").
func (r *Registry) RecordGuardrailTrip(rule string) {
	if r == nil {
		return
	}
	r.guardrailTrips.WithLabelValues(labelOrUnknown(rule)).Inc()
}

// ProposalsCounter exposes the proposals_total counter for a given
// cartridge/outcome pair, for test assertions via prometheus/testutil.
func (r *Registry) ProposalsCounter(cartridgeID, outcome string) prometheus.Counter {
	return r.proposals.WithLabelValues(labelOrUnknown(cartridgeID), labelOrUnknown(outcome))
}

// ApprovalsCounter exposes the approval resolutions_total counter for a
// given cartridge/resolution pair, for test assertions.
func (r *Registry) ApprovalsCounter(cartridgeID, resolution string) prometheus.Counter {
	return r.approvals.WithLabelValues(labelOrUnknown(cartridgeID), labelOrUnknown(resolution))
}

// LedgerAppendsCounter exposes the ledger appends_total counter for a
// given event type/outcome pair, for test assertions.
func (r *Registry) LedgerAppendsCounter(eventType, outcome string) prometheus.Counter {
	return r.ledgerAppends.WithLabelValues(labelOrUnknown(eventType), outcome)
}

// ChainValidGauge exposes the chain_valid gauge, for test assertions.
func (r *Registry) ChainValidGauge() prometheus.Gauge {
	return r.ledgerVerify
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
