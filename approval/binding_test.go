package approval_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governor/approval"
	"governor/schema"
)

func sampleTrace() schema.DecisionTrace {
	return schema.DecisionTrace{
		FinalDecision:   schema.DecisionAllow,
		ApprovalRequired: schema.ApprovalElevated,
		Risk:            schema.RiskScore{Raw: 55, Category: schema.RiskHigh},
	}
}

func TestComputeBindingHashDeterministic(t *testing.T) {
	params := map[string]interface{}{"amount": 500.0}
	trace := sampleTrace()
	snapshot := map[string]interface{}{"balance": 1000.0}

	h1, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, snapshot)
	require.NoError(t, err)
	h2, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, snapshot)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputeBindingHashChangesWithParameters(t *testing.T) {
	base := map[string]interface{}{"amount": 500.0}
	changed := map[string]interface{}{"amount": 5000.0}
	trace := sampleTrace()
	snapshot := map[string]interface{}{"balance": 1000.0}

	h1, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", base, trace, snapshot)
	require.NoError(t, err)
	h2, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", changed, trace, snapshot)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestComputeBindingHashChangesWithEnvelopeVersion(t *testing.T) {
	params := map[string]interface{}{"amount": 500.0}
	trace := sampleTrace()
	snapshot := map[string]interface{}{"balance": 1000.0}

	h1, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, snapshot)
	require.NoError(t, err)
	h2, err := approval.ComputeBindingHash("env_1", 2, "env_1#0", params, trace, snapshot)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "a bumped envelope version must invalidate the old binding hash")
}

func TestComputeBindingHashChangesWithDecisionTrace(t *testing.T) {
	params := map[string]interface{}{"amount": 500.0}
	snapshot := map[string]interface{}{"balance": 1000.0}
	trace1 := sampleTrace()
	trace2 := sampleTrace()
	trace2.ApprovalRequired = schema.ApprovalStandard

	h1, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace1, snapshot)
	require.NoError(t, err)
	h2, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace2, snapshot)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestComputeBindingHashChangesWithContextSnapshot(t *testing.T) {
	params := map[string]interface{}{"amount": 500.0}
	trace := sampleTrace()

	h1, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, map[string]interface{}{"balance": 1000.0})
	require.NoError(t, err)
	h2, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, map[string]interface{}{"balance": 2000.0})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestVerifyBindingHash(t *testing.T) {
	params := map[string]interface{}{"amount": 500.0}
	trace := sampleTrace()
	snapshot := map[string]interface{}{"balance": 1000.0}
	hash, err := approval.ComputeBindingHash("env_1", 1, "env_1#0", params, trace, snapshot)
	require.NoError(t, err)

	require.True(t, approval.VerifyBindingHash(hash, hash))
	require.False(t, approval.VerifyBindingHash(hash, "deadbeef"))
	require.False(t, approval.VerifyBindingHash(hash, "not-hex"))
}
