package schema

import "time"

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
	ApprovalStatusPatched  ApprovalStatus = "patched"
)

// Terminal reports whether status has no further outgoing transitions.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalStatusPending
}

// ExpiredBehavior controls what the expiry sweeper does to a pending
// request once it passes ExpiresAt.
type ExpiredBehavior string

const (
	ExpiredBehaviorDeny      ExpiredBehavior = "deny"
	ExpiredBehaviorReRequest ExpiredBehavior = "re_request"
)

// QuorumVote is one approver's submitted hash for a quorum-gated request.
type QuorumVote struct {
	ApproverID string    `json:"approverId"`
	Hash       string    `json:"hash"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// Quorum describes the multi-approver requirement for a request, if any.
type Quorum struct {
	Required       int          `json:"required"`
	ApprovalHashes []QuorumVote `json:"approvalHashes"`
}

// EvidenceBundle is the point-in-time context an approver sees alongside a
// request: the decision trace, a snapshot of cartridge context, and a
// snapshot of the acting identity.
type EvidenceBundle struct {
	DecisionTrace    DecisionTrace          `json:"decisionTrace"`
	ContextSnapshot  map[string]interface{} `json:"contextSnapshot"`
	IdentitySnapshot map[string]interface{} `json:"identitySnapshot"`
}

// ApprovalRequest is a pending (or decided) request for a human to approve,
// reject, or patch a proposal, per spec.md §3.
type ApprovalRequest struct {
	ID               string          `json:"id"`
	Version          uint64          `json:"version"`
	ActionID         string          `json:"actionId"`
	EnvelopeID       string          `json:"envelopeId"`
	EnvelopeVersion  uint64          `json:"envelopeVersion"`
	ProposalIndex    int             `json:"proposalIndex"`
	Summary          string          `json:"summary"`
	RiskCategory     RiskCategory    `json:"riskCategory"`
	BindingHash      string          `json:"bindingHash"`
	Evidence         EvidenceBundle  `json:"evidenceBundle"`
	SuggestedButtons []string        `json:"suggestedButtons,omitempty"`
	Approvers        []string        `json:"approvers"`
	FallbackApprover string          `json:"fallbackApprover,omitempty"`
	Status           ApprovalStatus  `json:"status"`
	RespondedBy      string          `json:"respondedBy,omitempty"`
	RespondedAt      *time.Time      `json:"respondedAt,omitempty"`
	PatchValue       map[string]interface{} `json:"patchValue,omitempty"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	ExpiredBehavior  ExpiredBehavior `json:"expiredBehavior"`
	Quorum           *Quorum         `json:"quorum,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}
