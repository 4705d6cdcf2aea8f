package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"governor/cartridge"
	"governor/guardrail"
	"governor/policy"
	"governor/schema"
	"governor/storage/memstore"
)

func newEngine() *policy.Engine {
	return policy.New(guardrail.New(memstore.NewGuardrailStore(nil)))
}

func baseIdentity() schema.IdentitySpec {
	return schema.IdentitySpec{
		PrincipalID:       "user_1",
		OrganizationID:    "org_1",
		RiskTolerance:     map[schema.RiskCategory]schema.ApprovalRequirement{schema.RiskLow: schema.ApprovalNone, schema.RiskMedium: schema.ApprovalStandard, schema.RiskHigh: schema.ApprovalElevated, schema.RiskCritical: schema.ApprovalMandatory},
		GovernanceProfile: schema.ProfileGuarded,
	}
}

func TestEvaluateForbiddenBehaviorDenies(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()
	identity.ForbiddenBehaviors = []string{"delete_account"}

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal: schema.Proposal{ActionType: "delete_account"},
		Identity: identity,
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestEvaluateTrustBehaviorDowngradesToNone(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()
	identity.TrustBehaviors = []string{"send_email"}

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:           schema.Proposal{ActionType: "send_email"},
		Identity:           identity,
		CartridgeRiskInput: schema.RiskInput{BaseRisk: schema.RiskHigh, Reversibility: schema.ReversibilityFull},
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionAllow, trace.FinalDecision)
	require.Equal(t, schema.ApprovalNone, trace.ApprovalRequired)
}

func TestEvaluateCriticalPostureFloorsTrustBehaviorAtStandard(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()
	identity.TrustBehaviors = []string{"send_email"}
	identity.GovernanceProfile = schema.ProfileLocked

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:           schema.Proposal{ActionType: "send_email"},
		Identity:           identity,
		CartridgeRiskInput: schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull},
	})
	require.NoError(t, err)
	require.Equal(t, schema.ApprovalStandard, trace.ApprovalRequired)
}

func TestEvaluateElevatedPostureRaisesMinimumApproval(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()
	identity.GovernanceProfile = schema.ProfileStrict
	identity.RiskTolerance[schema.RiskNone] = schema.ApprovalNone

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:           schema.Proposal{ActionType: "send_email"},
		Identity:           identity,
		CartridgeRiskInput: schema.RiskInput{BaseRisk: schema.RiskNone, Reversibility: schema.ReversibilityFull},
	})
	require.NoError(t, err)
	require.Equal(t, schema.ApprovalStandard, trace.ApprovalRequired)
}

func TestEvaluateProtectedEntityDenies(t *testing.T) {
	guardEngine := guardrail.New(memstore.NewGuardrailStore([]schema.ProtectedEntity{{EntityID: "acct_ceo", Reason: "executive"}}))
	engine := policy.New(guardEngine)

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:         schema.Proposal{ActionType: "send_email"},
		Identity:         baseIdentity(),
		ResolvedEntities: []schema.ResolvedEntity{{InputRef: "ceo", Status: schema.ResolutionResolved, Entity: &schema.Entity{ID: "acct_ceo"}}},
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestEvaluateRateLimitDeniesAfterMax(t *testing.T) {
	store := memstore.NewGuardrailStore(nil)
	guardEngine := guardrail.New(store)
	engine := policy.New(guardEngine)
	ctx := context.Background()
	guardrails := cartridge.Guardrails{RateLimits: []cartridge.RateLimitRule{{ActionType: "send_email", Max: 1, Window: time.Minute}}}

	require.NoError(t, guardEngine.CommitRateLimit(ctx, "org_1", "user_1", "send_email", time.Minute))

	trace, err := engine.Evaluate(ctx, policy.EvaluateInput{
		Proposal:            schema.Proposal{ActionType: "send_email"},
		Identity:            baseIdentity(),
		CartridgeGuardrails: guardrails,
		Scope:               "org_1",
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestEvaluateSpendLimitDenies(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()
	limit := 100.0
	identity.GlobalSpendLimits = schema.SpendLimits{PerAction: &limit}

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:           schema.Proposal{ActionType: "send_wire"},
		Identity:           identity,
		CartridgeRiskInput: schema.RiskInput{BaseRisk: schema.RiskHigh, DollarsAtRisk: 500, Reversibility: schema.ReversibilityNone},
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestEvaluatePolicyRuleDenyWinsTies(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()

	allowPolicy := schema.Policy{
		ID: "allow-all", Priority: 1, Active: true,
		Rule:   schema.PolicyRule{Composition: schema.CompositionLeaf, Condition: &schema.Condition{Field: "actionType", Operator: schema.OpEq, Value: "send_email"}},
		Effect: schema.PolicyEffectAllow,
	}
	denyPolicy := schema.Policy{
		ID: "deny-vip", Priority: 1, Active: true,
		Rule:   schema.PolicyRule{Composition: schema.CompositionLeaf, Condition: &schema.Condition{Field: "actionType", Operator: schema.OpEq, Value: "send_email"}},
		Effect: schema.PolicyEffectDeny,
	}

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal: schema.Proposal{ActionType: "send_email"},
		Identity: identity,
		Policies: []schema.Policy{allowPolicy, denyPolicy},
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestEvaluateDelegationChainFailureDenies(t *testing.T) {
	engine := newEngine()
	identity := baseIdentity()

	trace, err := engine.Evaluate(context.Background(), policy.EvaluateInput{
		Proposal:            schema.Proposal{ActionType: "send_email"},
		Identity:            identity,
		ActingAsPrincipalID: "user_2",
	})
	require.NoError(t, err)
	require.Equal(t, schema.DecisionDeny, trace.FinalDecision)
}

func TestSimulateProducesSameTraceWithoutMutatingCounters(t *testing.T) {
	store := memstore.NewGuardrailStore(nil)
	guardEngine := guardrail.New(store)
	engine := policy.New(guardEngine)
	ctx := context.Background()
	guardrails := cartridge.Guardrails{RateLimits: []cartridge.RateLimitRule{{ActionType: "send_email", Max: 5, Window: time.Minute}}}

	_, err := engine.Simulate(ctx, policy.EvaluateInput{
		Proposal:            schema.Proposal{ActionType: "send_email"},
		Identity:            baseIdentity(),
		CartridgeGuardrails: guardrails,
		Scope:               "org_1",
	})
	require.NoError(t, err)

	check, err := guardEngine.CheckRateLimit(ctx, "org_1", "user_1", "send_email", 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, check.Count, "simulate must never commit a rate-limit increment")
}
