package schema

// GovernanceProfile is the top-level posture a principal's identity spec
// carries, which maps to a system-wide risk posture (spec.md §4.2).
type GovernanceProfile string

const (
	ProfileObserve GovernanceProfile = "observe"
	ProfileGuarded GovernanceProfile = "guarded"
	ProfileStrict  GovernanceProfile = "strict"
	ProfileLocked  GovernanceProfile = "locked"
)

// Posture derives the system posture this profile maps to.
func (p GovernanceProfile) Posture() SystemPosture {
	switch p {
	case ProfileStrict:
		return PostureElevated
	case ProfileLocked:
		return PostureCritical
	default:
		return PostureNormal
	}
}

// SystemPosture is the global risk posture derived from a governance
// profile.
type SystemPosture string

const (
	PostureNormal   SystemPosture = "normal"
	PostureElevated SystemPosture = "elevated"
	PostureCritical SystemPosture = "critical"
)

// SpendLimits caps dollar exposure over rolling calendar windows, any of
// which may be nil to mean "no limit".
type SpendLimits struct {
	Daily     *float64 `json:"daily,omitempty" yaml:"daily,omitempty"`
	Weekly    *float64 `json:"weekly,omitempty" yaml:"weekly,omitempty"`
	Monthly   *float64 `json:"monthly,omitempty" yaml:"monthly,omitempty"`
	PerAction *float64 `json:"perAction,omitempty" yaml:"per_action,omitempty"`
}

// DelegatedApprover lets a principal delegate approval authority to
// another principal.
type DelegatedApprover struct {
	PrincipalID string `json:"principalId" yaml:"principal_id"`
	Scope       string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// IdentitySpec is the per-principal (optionally per-org) governance
// configuration, per spec.md §3.
type IdentitySpec struct {
	PrincipalID          string                                `json:"principalId" yaml:"principal_id"`
	OrganizationID       string                                `json:"organizationId,omitempty" yaml:"organization_id,omitempty"`
	RiskTolerance        map[RiskCategory]ApprovalRequirement `json:"riskTolerance" yaml:"risk_tolerance"`
	GlobalSpendLimits    SpendLimits                           `json:"globalSpendLimits" yaml:"global_spend_limits"`
	CartridgeSpendLimits map[string]SpendLimits                `json:"cartridgeSpendLimits,omitempty" yaml:"cartridge_spend_limits,omitempty"`
	ForbiddenBehaviors   []string                              `json:"forbiddenBehaviors,omitempty" yaml:"forbidden_behaviors,omitempty"`
	TrustBehaviors       []string                              `json:"trustBehaviors,omitempty" yaml:"trust_behaviors,omitempty"`
	GovernanceProfile    GovernanceProfile                     `json:"governanceProfile" yaml:"governance_profile"`
	DelegatedApprovers   []DelegatedApprover                   `json:"delegatedApprovers,omitempty" yaml:"delegated_approvers,omitempty"`
}

// ContainsBehavior reports whether actionType is present in behaviors.
func ContainsBehavior(behaviors []string, actionType string) bool {
	for _, b := range behaviors {
		if b == actionType {
			return true
		}
	}
	return false
}
