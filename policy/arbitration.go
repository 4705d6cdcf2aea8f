package policy

import (
	"fmt"

	"governor/schema"
)

// arbitrateBase takes the maximum rank over identity.riskTolerance[category]
// and any matched require_approval policy's ApprovalRequirement, per
// spec.md §4.2's arbitration rule (posture and trust-behavior are applied
// separately in Engine.Evaluate since they depend on check order).
func arbitrateBase(identity schema.IdentitySpec, category schema.RiskCategory, matchedPolicy *schema.Policy) schema.ApprovalRequirement {
	req := identity.RiskTolerance[category]
	if req == "" {
		req = schema.ApprovalNone
	}
	if matchedPolicy != nil && matchedPolicy.Effect == schema.PolicyEffectRequireApproval {
		req = schema.MaxApprovalRequirement(req, matchedPolicy.ApprovalRequirement)
	}
	return req
}

// competenceThreshold is the |score| above which a competence record shifts
// the approval requirement by one rank, per spec.md §4.2 step 12.
const competenceThreshold = 0.5

// competenceAdjustment nudges req by one rank based on record's track
// record: a strong success history lowers it, a strong failure history
// raises it. The adjustment never pushes the requirement outside
// [none, mandatory].
func competenceAdjustment(req schema.ApprovalRequirement, record schema.CompetenceRecord) (schema.ApprovalRequirement, string, schema.CheckEffect) {
	score := record.Score()
	switch {
	case score >= competenceThreshold:
		lowered := rankToRequirement(req.Rank() - 1)
		return lowered, fmt.Sprintf("strong competence track record (score %.2f) lowers approval to %s", score, lowered), schema.EffectModify
	case score <= -competenceThreshold:
		raised := rankToRequirement(req.Rank() + 1)
		return raised, fmt.Sprintf("weak competence track record (score %.2f) raises approval to %s", score, raised), schema.EffectModify
	default:
		return req, "competence track record insufficient to adjust approval", schema.EffectAllow
	}
}

func rankToRequirement(rank int) schema.ApprovalRequirement {
	switch {
	case rank <= 0:
		return schema.ApprovalNone
	case rank == 1:
		return schema.ApprovalStandard
	case rank == 2:
		return schema.ApprovalElevated
	default:
		return schema.ApprovalMandatory
	}
}
