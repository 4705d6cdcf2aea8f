package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"governor/observability/metrics"
)

// TestDefaultReturnsSingleton exercises the lazy-singleton constructor
// directly, independent of any subsystem that wires it in.
func TestDefaultReturnsSingleton(t *testing.T) {
	require.Same(t, metrics.Default(), metrics.Default())
}

func TestRecordProposalIncrementsCounter(t *testing.T) {
	reg := metrics.Default()
	reg.RecordProposal("billing", "queued")
	reg.RecordProposal("billing", "queued")
	reg.RecordProposal("billing", "denied")

	require.Equal(t, float64(2), testutil.ToFloat64(reg.ProposalsCounter("billing", "queued")))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.ProposalsCounter("billing", "denied")))
}

func TestRecordApprovalResolutionTracksWait(t *testing.T) {
	reg := metrics.Default()
	reg.RecordApprovalResolution("billing", "approved", 90*time.Second)

	count := testutil.ToFloat64(reg.ApprovalsCounter("billing", "approved"))
	require.GreaterOrEqual(t, count, float64(1))
}

func TestRecordLedgerAppendDistinguishesOutcome(t *testing.T) {
	reg := metrics.Default()
	reg.RecordLedgerAppend("action.proposed", nil)
	reg.RecordLedgerAppend("action.proposed", assertError{})

	require.GreaterOrEqual(t, testutil.ToFloat64(reg.LedgerAppendsCounter("action.proposed", "success")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(reg.LedgerAppendsCounter("action.proposed", "error")), float64(1))
}

func TestSetChainValidTogglesGauge(t *testing.T) {
	reg := metrics.Default()
	reg.SetChainValid(true)
	require.Equal(t, float64(1), testutil.ToFloat64(reg.ChainValidGauge()))
	reg.SetChainValid(false)
	require.Equal(t, float64(0), testutil.ToFloat64(reg.ChainValidGauge()))
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var reg *metrics.Registry
	require.NotPanics(t, func() {
		reg.RecordProposal("billing", "queued")
		reg.RecordPolicyDecision("billing", "deny")
		reg.RecordApprovalResolution("billing", "approved", time.Second)
		reg.RecordLedgerAppend("action.proposed", nil)
		reg.SetChainValid(true)
		reg.RecordRiskScore("high", 80)
		reg.RecordGuardrailTrip("RATE_LIMIT")
	})
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
