package schema

import "time"

// EnvelopeStatus is the set of lifecycle states an Envelope may occupy. The
// allowed transitions between them are enforced by envelope.Machine, not by
// this type itself.
type EnvelopeStatus string

const (
	StatusInterpreting    EnvelopeStatus = "interpreting"
	StatusResolving       EnvelopeStatus = "resolving"
	StatusProposed        EnvelopeStatus = "proposed"
	StatusEvaluating      EnvelopeStatus = "evaluating"
	StatusPendingApproval EnvelopeStatus = "pending_approval"
	StatusApproved        EnvelopeStatus = "approved"
	StatusQueued          EnvelopeStatus = "queued"
	StatusExecuting       EnvelopeStatus = "executing"
	StatusExecuted        EnvelopeStatus = "executed"
	StatusFailed          EnvelopeStatus = "failed"
	StatusDenied          EnvelopeStatus = "denied"
	StatusExpired         EnvelopeStatus = "expired"
)

// Terminal reports whether status has no further outgoing transitions.
func (s EnvelopeStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusDenied, StatusExpired:
		return true
	default:
		return false
	}
}

// Envelope is the durable record of one agent request's progress through
// the lifecycle, per spec.md §3.
type Envelope struct {
	ID                string            `json:"id"`
	Version           uint64            `json:"version"`
	Proposals         []Proposal        `json:"proposals"`
	ResolvedEntities  []ResolvedEntity  `json:"resolvedEntities"`
	Plan              *Plan             `json:"plan,omitempty"`
	DecisionTraces    []DecisionTrace   `json:"decisionTraces"`
	ApprovalRequests  []ApprovalRequest `json:"approvalRequests"`
	ExecutionResults  []ExecutionResult `json:"executionResults"`
	AuditEntryIDs     []string          `json:"auditEntryIds"`
	Status            EnvelopeStatus    `json:"status"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	ParentEnvelopeID  string            `json:"parentEnvelopeId,omitempty"`
	TraceID           string            `json:"traceId,omitempty"`
	PrincipalID       string            `json:"principalId"`
	OrganizationID    string            `json:"organizationId,omitempty"`
	CartridgeID       string            `json:"cartridgeId"`
	UndoRecipe        *UndoRecipe       `json:"undoRecipe,omitempty"`
}

// Plan is an optional multi-step decomposition of a proposal; the spec
// treats it as opaque beyond its presence on the envelope.
type Plan struct {
	Steps []string `json:"steps"`
}

// ResolvedEntity is the tagged-variant result of resolving one entity
// reference against a cartridge, per the §9 design note: modelled as a
// struct with a discriminant Status field rather than nested optionals, so
// call sites switch on Status instead of chasing nil pointers.
type ResolvedEntity struct {
	InputRef     string        `json:"inputRef"`
	Status       ResolutionTag `json:"status"`
	Entity       *Entity       `json:"entity,omitempty"`
	Alternatives []Entity      `json:"alternatives,omitempty"`
}

// ResolutionTag discriminates a ResolvedEntity's variant.
type ResolutionTag string

const (
	ResolutionResolved   ResolutionTag = "resolved"
	ResolutionAmbiguous  ResolutionTag = "ambiguous"
	ResolutionNotFound   ResolutionTag = "not_found"
)

// Entity is a resolved reference to something a proposal acts on (a
// campaign, an account, a position).
type Entity struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Volatile bool   `json:"volatile,omitempty"`
}

// UndoRecipe is a pre-computed reverse action captured at execution time.
type UndoRecipe struct {
	ReverseActionType string                 `json:"reverseActionType"`
	ReverseParameters map[string]interface{} `json:"reverseParameters"`
	ExpiresAt         time.Time              `json:"expiresAt"`
	RequiredApproval  ApprovalRequirement    `json:"requiredApproval"`
}

// ExecutionResult records the outcome of a cartridge.Execute call.
type ExecutionResult struct {
	ProposalIndex    int                    `json:"proposalIndex"`
	Success          bool                   `json:"success"`
	Summary          string                 `json:"summary"`
	ExternalRefs     map[string]string      `json:"externalRefs,omitempty"`
	PartialFailures  []string               `json:"partialFailures,omitempty"`
	UndoRecipe       *UndoRecipe            `json:"undoRecipe,omitempty"`
	DollarsExecuted  float64                `json:"dollarsExecuted,omitempty"`
	CompletedAt      time.Time              `json:"completedAt"`
}
