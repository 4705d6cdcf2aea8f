package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governor/policy"
	"governor/schema"
)

func leaf(field string, op schema.ConditionOperator, value interface{}) schema.PolicyRule {
	return schema.PolicyRule{Composition: schema.CompositionLeaf, Condition: &schema.Condition{Field: field, Operator: op, Value: value}}
}

func TestEvaluateLeafEquals(t *testing.T) {
	facts := map[string]interface{}{"actionType": "send_email"}
	require.True(t, policy.Evaluate(leaf("actionType", schema.OpEq, "send_email"), facts))
	require.False(t, policy.Evaluate(leaf("actionType", schema.OpEq, "send_sms"), facts))
}

func TestEvaluateNestedDottedPath(t *testing.T) {
	facts := map[string]interface{}{
		"parameters": map[string]interface{}{"amount": 150.0},
	}
	require.True(t, policy.Evaluate(leaf("parameters.amount", schema.OpGt, 100.0), facts))
	require.False(t, policy.Evaluate(leaf("parameters.amount", schema.OpLt, 100.0), facts))
}

func TestEvaluateAndOrNot(t *testing.T) {
	facts := map[string]interface{}{"actionType": "send_email", "risk": map[string]interface{}{"category": "high"}}

	and := schema.PolicyRule{Composition: schema.CompositionAnd, Children: []schema.PolicyRule{
		leaf("actionType", schema.OpEq, "send_email"),
		leaf("risk.category", schema.OpEq, "high"),
	}}
	require.True(t, policy.Evaluate(and, facts))

	or := schema.PolicyRule{Composition: schema.CompositionOr, Children: []schema.PolicyRule{
		leaf("actionType", schema.OpEq, "send_sms"),
		leaf("risk.category", schema.OpEq, "high"),
	}}
	require.True(t, policy.Evaluate(or, facts))

	not := schema.PolicyRule{Composition: schema.CompositionNot, Children: []schema.PolicyRule{
		leaf("actionType", schema.OpEq, "send_sms"),
	}}
	require.True(t, policy.Evaluate(not, facts))
}

func TestEvaluateExistsNotExists(t *testing.T) {
	facts := map[string]interface{}{"metadata": map[string]interface{}{"campaignId": "c1"}}
	require.True(t, policy.Evaluate(leaf("metadata.campaignId", schema.OpExists, nil), facts))
	require.False(t, policy.Evaluate(leaf("metadata.other", schema.OpExists, nil), facts))
	require.True(t, policy.Evaluate(leaf("metadata.other", schema.OpNotExists, nil), facts))
}

func TestEvaluateInNotIn(t *testing.T) {
	facts := map[string]interface{}{"actionType": "send_sms"}
	allowed := []interface{}{"send_email", "send_sms"}
	require.True(t, policy.Evaluate(leaf("actionType", schema.OpIn, allowed), facts))
	require.False(t, policy.Evaluate(leaf("actionType", schema.OpNotIn, allowed), facts))
}

func TestEvaluateContainsOnStringAndSlice(t *testing.T) {
	facts := map[string]interface{}{
		"parameters": map[string]interface{}{
			"subject": "quarterly invoice attached",
			"tags":    []interface{}{"finance", "urgent"},
		},
	}
	require.True(t, policy.Evaluate(leaf("parameters.subject", schema.OpContains, "invoice"), facts))
	require.True(t, policy.Evaluate(leaf("parameters.tags", schema.OpContains, "urgent"), facts))
	require.False(t, policy.Evaluate(leaf("parameters.tags", schema.OpContains, "missing"), facts))
}

func TestEvaluateMatchesRegex(t *testing.T) {
	facts := map[string]interface{}{"parameters": map[string]interface{}{"to": "ceo@example.com"}}
	require.True(t, policy.Evaluate(leaf("parameters.to", schema.OpMatches, `^[^@]+@example\.com$`), facts))
	require.False(t, policy.Evaluate(leaf("parameters.to", schema.OpMatches, `^[^@]+@other\.com$`), facts))
}

func TestEvaluateMissingFieldIsFalseExceptNotExists(t *testing.T) {
	facts := map[string]interface{}{}
	require.False(t, policy.Evaluate(leaf("missing", schema.OpEq, "x"), facts))
	require.True(t, policy.Evaluate(leaf("missing", schema.OpNotExists, nil), facts))
}
