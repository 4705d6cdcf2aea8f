package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"governor/cartridge"
	"governor/guardrail"
	"governor/observability/metrics"
	"governor/risk"
	"governor/schema"
)

// Engine runs the full 13-step check pipeline described in spec.md §4.2.
type Engine struct {
	guardrail *guardrail.Engine
	now       func() time.Time
	metrics   *metrics.Registry
}

func New(guardrailEngine *guardrail.Engine) *Engine {
	return &Engine{guardrail: guardrailEngine, now: time.Now, metrics: metrics.Default()}
}

// EvaluateInput bundles everything the pipeline needs for one proposal. The
// orchestrator assembles it from the envelope, the identity store, the
// active policy set, and the owning cartridge.
type EvaluateInput struct {
	Proposal           schema.Proposal
	ResolvedEntities   []schema.ResolvedEntity
	Identity           schema.IdentitySpec
	CartridgeID        string
	CartridgeRiskInput schema.RiskInput
	CartridgeGuardrails cartridge.Guardrails
	CompositeContext   schema.CompositeContext
	Policies           []schema.Policy
	// Scope keys rate-limit/cooldown state; typically the organization ID.
	Scope string
	// ActingAsPrincipalID is set when the caller is exercising a delegated
	// identity distinct from Identity.PrincipalID.
	ActingAsPrincipalID string
}

// Simulate runs the same pipeline as Evaluate. Evaluate itself only ever
// reads guardrail state (CheckRateLimit, CheckCooldown, CheckSpendLimits);
// the corresponding counters are only mutated by the orchestrator's
// post-commit Commit* calls, so a simulated run and a real evaluation are
// identical here — Simulate exists as the caller-facing name for spec.md
// §4.4's dry-run mode and guarantees no audit entry is ever produced by
// this package regardless of caller.
func (e *Engine) Simulate(ctx context.Context, in EvaluateInput) (*schema.DecisionTrace, error) {
	return e.Evaluate(ctx, in)
}

// Evaluate runs every check in order and returns the resulting DecisionTrace.
func (e *Engine) Evaluate(ctx context.Context, in EvaluateInput) (*schema.DecisionTrace, error) {
	checks := make([]schema.DecisionCheck, 0, 13)
	denied := false
	finalDecision := schema.DecisionAllow

	record := func(code schema.CheckCode, detail string, matched bool, effect schema.CheckEffect, data map[string]interface{}) {
		checks = append(checks, schema.DecisionCheck{CheckCode: code, CheckData: data, Detail: detail, Matched: matched, Effect: effect})
	}
	deny := func(code schema.CheckCode, detail string, data map[string]interface{}) {
		record(code, detail, true, schema.EffectDeny, data)
		denied = true
		finalDecision = schema.DecisionDeny
		e.metrics.RecordGuardrailTrip(string(code))
	}

	// 1. FORBIDDEN_BEHAVIOR
	if schema.ContainsBehavior(in.Identity.ForbiddenBehaviors, in.Proposal.ActionType) {
		deny(schema.CheckForbiddenBehavior, fmt.Sprintf("%s is in the principal's forbidden behaviors", in.Proposal.ActionType), nil)
	} else {
		record(schema.CheckForbiddenBehavior, "action type is not forbidden", false, schema.EffectAllow, nil)
	}

	// 2. RESOLVER_AMBIGUITY
	ambiguous, notFound := scanResolutions(in.ResolvedEntities)
	switch {
	case !denied && notFound:
		deny(schema.CheckResolverAmbiguity, "one or more entities could not be resolved", nil)
	case !denied && ambiguous:
		record(schema.CheckResolverAmbiguity, "one or more entities resolved ambiguously", true, schema.EffectEscalate, nil)
	default:
		record(schema.CheckResolverAmbiguity, "all entities resolved unambiguously", false, schema.EffectAllow, nil)
	}

	// 3. PROTECTED_ENTITY
	if !denied {
		if hit, reason, err := e.checkProtectedEntities(ctx, in.ResolvedEntities); err != nil {
			return nil, err
		} else if hit != "" {
			deny(schema.CheckProtectedEntity, fmt.Sprintf("entity %s is protected: %s", hit, reason), map[string]interface{}{"entityId": hit})
		} else {
			record(schema.CheckProtectedEntity, "no protected entities targeted", false, schema.EffectAllow, nil)
		}
	} else {
		record(schema.CheckProtectedEntity, "skipped: already denied", false, schema.EffectSkip, nil)
	}

	// 4. RATE_LIMIT
	if !denied {
		if rule, ok := findRateLimitRule(in.CartridgeGuardrails, in.Proposal.ActionType); ok {
			check, err := e.guardrail.CheckRateLimit(ctx, in.Scope, in.Identity.PrincipalID, in.Proposal.ActionType, rule.Max, rule.Window)
			if err != nil {
				return nil, err
			}
			if !check.Allowed {
				deny(schema.CheckRateLimit, fmt.Sprintf("rate limit exceeded: %d/%d in window", check.Count, check.Max), nil)
			} else {
				record(schema.CheckRateLimit, fmt.Sprintf("within rate limit: %d/%d", check.Count, check.Max), false, schema.EffectAllow, nil)
			}
		} else {
			record(schema.CheckRateLimit, "no rate limit rule declared for action type", false, schema.EffectAllow, nil)
		}
	} else {
		record(schema.CheckRateLimit, "skipped: already denied", false, schema.EffectSkip, nil)
	}

	// 5. COOLDOWN
	if !denied {
		if rule, ok := findCooldownRule(in.CartridgeGuardrails, in.Proposal.ActionType); ok {
			allowed, err := e.guardrail.CheckCooldown(ctx, in.Proposal.ActionType, in.Scope, rule.MinInterval)
			if err != nil {
				return nil, err
			}
			if !allowed {
				deny(schema.CheckCooldown, "cooldown interval has not elapsed", nil)
			} else {
				record(schema.CheckCooldown, "cooldown interval satisfied", false, schema.EffectAllow, nil)
			}
		} else {
			record(schema.CheckCooldown, "no cooldown rule declared for action type", false, schema.EffectAllow, nil)
		}
	} else {
		record(schema.CheckCooldown, "skipped: already denied", false, schema.EffectSkip, nil)
	}

	// 6. SPEND_LIMIT
	if !denied {
		exceeded, detail, err := e.checkSpendLimits(ctx, in)
		if err != nil {
			return nil, err
		}
		if exceeded {
			deny(schema.CheckSpendLimit, detail, nil)
		} else {
			record(schema.CheckSpendLimit, "within configured spend limits", false, schema.EffectAllow, nil)
		}
	} else {
		record(schema.CheckSpendLimit, "skipped: already denied", false, schema.EffectSkip, nil)
	}

	// 7. RISK_SCORING (informational: always runs, never downgrades a deny)
	riskScore := risk.Score(in.CartridgeRiskInput)
	record(schema.CheckRiskScoring, fmt.Sprintf("base risk score %.1f (%s)", riskScore.Raw, riskScore.Category), true, schema.EffectAllow, nil)

	// 8. COMPOSITE_RISK (informational)
	riskScore = risk.CompositeAdjustment(riskScore, in.CompositeContext)
	record(schema.CheckCompositeRisk, fmt.Sprintf("composite-adjusted risk score %.1f (%s)", riskScore.Raw, riskScore.Category), true, schema.EffectAllow, nil)

	facts := buildFactBag(in.Proposal, in.Identity, riskScore)

	// 9. POLICY_RULE
	var matchedPolicy *schema.Policy
	if !denied {
		matchedPolicy = selectPolicy(in.Policies, facts)
		switch {
		case matchedPolicy == nil:
			record(schema.CheckPolicyRule, "no active policy matched", false, schema.EffectAllow, nil)
		case matchedPolicy.Effect == schema.PolicyEffectDeny:
			deny(schema.CheckPolicyRule, fmt.Sprintf("policy %s denies this action", matchedPolicy.ID), map[string]interface{}{"policyId": matchedPolicy.ID})
		default:
			record(schema.CheckPolicyRule, fmt.Sprintf("policy %s matched with effect %s", matchedPolicy.ID, matchedPolicy.Effect), true, policyCheckEffect(matchedPolicy.Effect), map[string]interface{}{"policyId": matchedPolicy.ID})
			if matchedPolicy.Effect == schema.PolicyEffectModify {
				finalDecision = schema.DecisionModify
			}
		}
		if matchedPolicy != nil && matchedPolicy.RiskCategoryOverride != "" {
			riskScore.Category = matchedPolicy.RiskCategoryOverride
		}
	} else {
		record(schema.CheckPolicyRule, "skipped: already denied", false, schema.EffectSkip, nil)
	}

	posture := in.Identity.GovernanceProfile.Posture()
	trustHit := schema.ContainsBehavior(in.Identity.TrustBehaviors, in.Proposal.ActionType)

	baseApprovalReq := arbitrateBase(in.Identity, riskScore.Category, matchedPolicy)

	// 10. TRUST_BEHAVIOR
	var approvalReq schema.ApprovalRequirement
	if trustHit && !denied {
		if posture == schema.PostureCritical {
			approvalReq = schema.ApprovalStandard
		} else {
			approvalReq = schema.ApprovalNone
		}
		record(schema.CheckTrustBehavior, fmt.Sprintf("%s is a trusted behavior; approval downgraded to %s", in.Proposal.ActionType, approvalReq), true, schema.EffectModify, nil)
	} else {
		approvalReq = baseApprovalReq
		record(schema.CheckTrustBehavior, "no trust-behavior downgrade applies", false, schema.EffectAllow, nil)
	}

	// 11. SYSTEM_POSTURE
	postureReq := postureRequirement(posture)
	if !trustHit {
		approvalReq = schema.MaxApprovalRequirement(approvalReq, postureReq)
	}
	record(schema.CheckSystemPosture, fmt.Sprintf("system posture %s", posture), posture != schema.PostureNormal, schema.EffectAllow, map[string]interface{}{"posture": string(posture)})

	// 12. COMPETENCE_TRUST / COMPETENCE_ESCALATION
	if !denied && !trustHit {
		competenceRecord, err := e.guardrail.GetCompetence(ctx, in.Identity.PrincipalID, in.Proposal.ActionType)
		if err != nil {
			return nil, err
		}
		adjusted, detail, effect := competenceAdjustment(approvalReq, competenceRecord)
		approvalReq = adjusted
		code := schema.CheckCompetenceTrust
		if competenceRecord.Score() <= -competenceThreshold {
			code = schema.CheckCompetenceEscalation
		}
		checks = append(checks, schema.DecisionCheck{CheckCode: code, Detail: detail, Matched: effect != schema.EffectAllow, Effect: effect})
	} else {
		checks = append(checks, schema.DecisionCheck{CheckCode: schema.CheckCompetenceTrust, Detail: "skipped", Matched: false, Effect: schema.EffectSkip})
	}

	// 13. DELEGATION_CHAIN
	if !denied && in.ActingAsPrincipalID != "" && in.ActingAsPrincipalID != in.Identity.PrincipalID {
		if !delegationPermits(in.Identity, in.ActingAsPrincipalID) {
			deny(schema.CheckDelegationChain, fmt.Sprintf("no delegation from %s to act as %s", in.Identity.PrincipalID, in.ActingAsPrincipalID), nil)
		} else {
			record(schema.CheckDelegationChain, "delegation chain resolved", true, schema.EffectAllow, nil)
		}
	} else {
		record(schema.CheckDelegationChain, "no delegated identity in effect", false, schema.EffectSkip, nil)
	}

	explanation := explain(finalDecision, approvalReq, riskScore, checks)

	return &schema.DecisionTrace{
		Checks:           checks,
		Risk:             riskScore,
		FinalDecision:    finalDecision,
		ApprovalRequired: approvalReq,
		Explanation:      explanation,
		EvaluatedAt:      e.now(),
	}, nil
}

func scanResolutions(entities []schema.ResolvedEntity) (ambiguous, notFound bool) {
	for _, entity := range entities {
		switch entity.Status {
		case schema.ResolutionAmbiguous:
			ambiguous = true
		case schema.ResolutionNotFound:
			notFound = true
		}
	}
	return ambiguous, notFound
}

func (e *Engine) checkProtectedEntities(ctx context.Context, entities []schema.ResolvedEntity) (string, string, error) {
	for _, re := range entities {
		if re.Entity == nil {
			continue
		}
		hit, reason, err := e.guardrail.IsProtectedEntity(ctx, re.Entity.ID)
		if err != nil {
			return "", "", err
		}
		if hit {
			return re.Entity.ID, reason, nil
		}
	}
	return "", "", nil
}

func findRateLimitRule(guardrails cartridge.Guardrails, actionType string) (cartridge.RateLimitRule, bool) {
	for _, rule := range guardrails.RateLimits {
		if rule.ActionType == actionType {
			return rule, true
		}
	}
	return cartridge.RateLimitRule{}, false
}

func findCooldownRule(guardrails cartridge.Guardrails, actionType string) (cartridge.CooldownRule, bool) {
	for _, rule := range guardrails.Cooldowns {
		if rule.ActionType == actionType {
			return rule, true
		}
	}
	return cartridge.CooldownRule{}, false
}

func (e *Engine) checkSpendLimits(ctx context.Context, in EvaluateInput) (bool, string, error) {
	dollars := in.CartridgeRiskInput.DollarsAtRisk
	if dollars <= 0 {
		return false, "", nil
	}

	if limit := in.Identity.GlobalSpendLimits.PerAction; limit != nil && dollars > *limit {
		return true, fmt.Sprintf("per-action spend %.2f exceeds global limit %.2f", dollars, *limit), nil
	}

	globalResult, err := e.guardrail.CheckSpendLimits(ctx, in.Identity.PrincipalID, "", in.Identity.GlobalSpendLimits, dollars)
	if err != nil {
		return false, "", err
	}
	if globalResult.Exceeded() {
		return true, "global spend limit exceeded", nil
	}

	if cartridgeLimits, ok := in.Identity.CartridgeSpendLimits[in.CartridgeID]; ok {
		if limit := cartridgeLimits.PerAction; limit != nil && dollars > *limit {
			return true, fmt.Sprintf("per-action spend %.2f exceeds cartridge limit %.2f", dollars, *limit), nil
		}
		cartridgeResult, err := e.guardrail.CheckSpendLimits(ctx, in.Identity.PrincipalID, in.CartridgeID, cartridgeLimits, dollars)
		if err != nil {
			return false, "", err
		}
		if cartridgeResult.Exceeded() {
			return true, fmt.Sprintf("cartridge %s spend limit exceeded", in.CartridgeID), nil
		}
	}

	return false, "", nil
}

func buildFactBag(proposal schema.Proposal, identity schema.IdentitySpec, riskScore schema.RiskScore) map[string]interface{} {
	parameters := proposal.Parameters
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	metadata := map[string]interface{}{}
	if ctxVal, ok := parameters["_context"].(map[string]interface{}); ok {
		metadata = ctxVal
	}
	return map[string]interface{}{
		"actionType": proposal.ActionType,
		"parameters": parameters,
		"metadata":   metadata,
		"principal": map[string]interface{}{
			"id":             identity.PrincipalID,
			"organizationId": identity.OrganizationID,
		},
		"risk": map[string]interface{}{
			"category": string(riskScore.Category),
			"raw":      riskScore.Raw,
		},
	}
}

// selectPolicy evaluates policies grouped by ascending priority, stopping at
// the first priority level with any match; within that level, a matching
// deny-effect policy wins ties over other matches.
func selectPolicy(policies []schema.Policy, facts map[string]interface{}) *schema.Policy {
	sorted := make([]schema.Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	i := 0
	for i < len(sorted) {
		priority := sorted[i].Priority
		j := i
		var matches []*schema.Policy
		for j < len(sorted) && sorted[j].Priority == priority {
			if Evaluate(sorted[j].Rule, facts) {
				matches = append(matches, &sorted[j])
			}
			j++
		}
		if len(matches) > 0 {
			for _, m := range matches {
				if m.Effect == schema.PolicyEffectDeny {
					return m
				}
			}
			return matches[0]
		}
		i = j
	}
	return nil
}

func policyCheckEffect(effect schema.PolicyEffect) schema.CheckEffect {
	switch effect {
	case schema.PolicyEffectDeny:
		return schema.EffectDeny
	case schema.PolicyEffectModify:
		return schema.EffectModify
	case schema.PolicyEffectRequireApproval:
		return schema.EffectEscalate
	default:
		return schema.EffectAllow
	}
}

func postureRequirement(posture schema.SystemPosture) schema.ApprovalRequirement {
	switch posture {
	case schema.PostureElevated:
		return schema.ApprovalStandard
	case schema.PostureCritical:
		return schema.ApprovalMandatory
	default:
		return schema.ApprovalNone
	}
}

func delegationPermits(identity schema.IdentitySpec, actingAs string) bool {
	for _, d := range identity.DelegatedApprovers {
		if d.PrincipalID == actingAs {
			return true
		}
	}
	return false
}

func explain(decision schema.FinalDecision, approval schema.ApprovalRequirement, riskScore schema.RiskScore, checks []schema.DecisionCheck) string {
	for _, c := range checks {
		if c.Effect == schema.EffectDeny && c.Matched {
			return fmt.Sprintf("denied: %s", c.Detail)
		}
	}
	return fmt.Sprintf("%s: risk %s (%.1f), approval %s", decision, riskScore.Category, riskScore.Raw, approval)
}
