package schema

import "time"

// CheckCode enumerates the fixed set of decision checks the policy engine
// records. The declaration order below is not the order in which
// policy.Engine.Evaluate runs them.
type CheckCode string

const (
	CheckForbiddenBehavior   CheckCode = "FORBIDDEN_BEHAVIOR"
	CheckTrustBehavior       CheckCode = "TRUST_BEHAVIOR"
	CheckRateLimit           CheckCode = "RATE_LIMIT"
	CheckCooldown            CheckCode = "COOLDOWN"
	CheckProtectedEntity     CheckCode = "PROTECTED_ENTITY"
	CheckSpendLimit          CheckCode = "SPEND_LIMIT"
	CheckPolicyRule          CheckCode = "POLICY_RULE"
	CheckRiskScoring         CheckCode = "RISK_SCORING"
	CheckResolverAmbiguity   CheckCode = "RESOLVER_AMBIGUITY"
	CheckCompetenceTrust     CheckCode = "COMPETENCE_TRUST"
	CheckCompetenceEscalation CheckCode = "COMPETENCE_ESCALATION"
	CheckCompositeRisk       CheckCode = "COMPOSITE_RISK"
	CheckDelegationChain     CheckCode = "DELEGATION_CHAIN"
	CheckSystemPosture       CheckCode = "SYSTEM_POSTURE"
)

// CheckEffect is what a DecisionCheck recommends for the overall decision.
type CheckEffect string

const (
	EffectAllow    CheckEffect = "allow"
	EffectDeny     CheckEffect = "deny"
	EffectModify   CheckEffect = "modify"
	EffectSkip     CheckEffect = "skip"
	EffectEscalate CheckEffect = "escalate"
)

// DecisionCheck is one entry in a DecisionTrace: the record of a single
// check's evaluation.
type DecisionCheck struct {
	CheckCode CheckCode              `json:"checkCode"`
	CheckData map[string]interface{} `json:"checkData,omitempty"`
	Detail    string                 `json:"detail"`
	Matched   bool                   `json:"matched"`
	Effect    CheckEffect            `json:"effect"`
}

// RiskCategory is the bucketed severity of a RiskScore.
type RiskCategory string

const (
	RiskNone     RiskCategory = "none"
	RiskLow      RiskCategory = "low"
	RiskMedium   RiskCategory = "medium"
	RiskHigh     RiskCategory = "high"
	RiskCritical RiskCategory = "critical"
)

// RiskScore is the computed output of the risk scorer: a raw numeric score
// in [0,100], its bucketed category, and the contributions that produced
// it (kept for audit/explainability).
type RiskScore struct {
	Raw      float64            `json:"raw"`
	Category RiskCategory       `json:"category"`
	Factors  map[string]float64 `json:"factors"`
}

// ApprovalRequirement is the minimum approval level needed before a
// proposal may execute.
type ApprovalRequirement string

const (
	ApprovalNone     ApprovalRequirement = "none"
	ApprovalStandard ApprovalRequirement = "standard"
	ApprovalElevated ApprovalRequirement = "elevated"
	ApprovalMandatory ApprovalRequirement = "mandatory"
)

// Rank returns the ordinal rank of an ApprovalRequirement, used by
// arbitration to take the maximum across contributing sources.
func (a ApprovalRequirement) Rank() int {
	switch a {
	case ApprovalNone:
		return 0
	case ApprovalStandard:
		return 1
	case ApprovalElevated:
		return 2
	case ApprovalMandatory:
		return 3
	default:
		return 0
	}
}

// MaxApprovalRequirement returns whichever of a, b ranks higher.
func MaxApprovalRequirement(a, b ApprovalRequirement) ApprovalRequirement {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// FinalDecision is the overall outcome of policy evaluation for a proposal.
type FinalDecision string

const (
	DecisionAllow  FinalDecision = "allow"
	DecisionDeny   FinalDecision = "deny"
	DecisionModify FinalDecision = "modify"
)

// DecisionTrace is the complete, ordered record of one proposal's policy
// evaluation, per spec.md §3.
type DecisionTrace struct {
	Checks            []DecisionCheck     `json:"checks"`
	Risk              RiskScore           `json:"risk"`
	FinalDecision     FinalDecision       `json:"finalDecision"`
	ApprovalRequired  ApprovalRequirement `json:"approvalRequired"`
	Explanation       string              `json:"explanation"`
	EvaluatedAt       time.Time           `json:"evaluatedAt"`
	GovernanceNote    string              `json:"governanceNote,omitempty"`
}
