package schema

import "time"

// VisibilityLevel restricts who may read an audit entry's full snapshot.
type VisibilityLevel string

const (
	VisibilityPublic VisibilityLevel = "public"
	VisibilityOrg    VisibilityLevel = "org"
	VisibilityAdmin  VisibilityLevel = "admin"
	VisibilitySystem VisibilityLevel = "system"
)

// EventType is the closed enum of audit event types, per spec.md §6.
type EventType string

const (
	EventActionProposed       EventType = "action.proposed"
	EventActionResolved       EventType = "action.resolved"
	EventActionEnriched       EventType = "action.enriched"
	EventActionEvaluated      EventType = "action.evaluated"
	EventActionApproved       EventType = "action.approved"
	EventActionRejected       EventType = "action.rejected"
	EventActionPatched        EventType = "action.patched"
	EventActionQueued         EventType = "action.queued"
	EventActionExecuting      EventType = "action.executing"
	EventActionExecuted       EventType = "action.executed"
	EventActionFailed         EventType = "action.failed"
	EventActionDenied         EventType = "action.denied"
	EventActionExpired        EventType = "action.expired"
	EventActionCancelled      EventType = "action.cancelled"
	EventUndoRequested        EventType = "action.undo_requested"
	EventUndoExecuted         EventType = "action.undo_executed"
	EventApprovalExpired      EventType = "action.approval_expired"
	EventIdentityCreated      EventType = "identity.created"
	EventIdentityUpdated      EventType = "identity.updated"
	EventOverlayActivated     EventType = "overlay.activated"
	EventOverlayDeactivated   EventType = "overlay.deactivated"
	EventPolicyCreated        EventType = "policy.created"
	EventPolicyUpdated        EventType = "policy.updated"
	EventPolicyDeleted        EventType = "policy.deleted"
	EventConnectionEstablished EventType = "connection.established"
	EventConnectionRevoked    EventType = "connection.revoked"
	EventConnectionDegraded   EventType = "connection.degraded"
	EventCompetencePromoted   EventType = "competence.promoted"
	EventCompetenceDemoted    EventType = "competence.demoted"
	EventCompetenceUpdated    EventType = "competence.updated"
	EventDelegationResolved   EventType = "delegation.chain_resolved"
)

// EvidencePointer references externally-stored evidence content too large
// to inline into an audit entry's snapshot.
type EvidencePointer struct {
	Type       string `json:"type"`
	Hash       string `json:"hash"`
	StorageRef string `json:"storageRef"`
}

// AuditEntry is one hash-chained, append-only ledger record, per spec.md
// §3 and §4.1.
type AuditEntry struct {
	ID                string                 `json:"id"`
	EventType         EventType              `json:"eventType"`
	Timestamp         time.Time              `json:"timestamp"`
	ActorType         string                 `json:"actorType"`
	ActorID           string                 `json:"actorId"`
	EntityType        string                 `json:"entityType"`
	EntityID          string                 `json:"entityId"`
	RiskCategory      RiskCategory           `json:"riskCategory,omitempty"`
	VisibilityLevel   VisibilityLevel        `json:"visibilityLevel"`
	Summary           string                 `json:"summary"`
	Snapshot          map[string]interface{} `json:"snapshot"`
	EvidencePointers  []EvidencePointer      `json:"evidencePointers,omitempty"`
	RedactionApplied  bool                   `json:"redactionApplied"`
	RedactedFields    []string               `json:"redactedFields,omitempty"`
	SchemaVersion     int                    `json:"schemaVersion"`
	ChainHashVersion  int                    `json:"chainHashVersion"`
	EntryHash         string                 `json:"entryHash"`
	PreviousEntryHash string                 `json:"previousEntryHash"`
	EnvelopeID        string                 `json:"envelopeId,omitempty"`
	OrganizationID    string                 `json:"organizationId,omitempty"`
}

// HashableView is the deterministic subset of an AuditEntry's fields that
// feed EntryHash, per spec.md §4.1. Keeping it as a distinct type (rather
// than hashing AuditEntry directly) pins the hash contract against future,
// purely-cosmetic additions to AuditEntry.
type HashableView struct {
	ChainHashVersion  int                    `json:"chainHashVersion"`
	SchemaVersion     int                    `json:"schemaVersion"`
	ID                string                 `json:"id"`
	EventType         EventType              `json:"eventType"`
	Timestamp         string                 `json:"timestamp"`
	ActorType         string                 `json:"actorType"`
	ActorID           string                 `json:"actorId"`
	EntityType        string                 `json:"entityType"`
	EntityID          string                 `json:"entityId"`
	RiskCategory      RiskCategory           `json:"riskCategory"`
	Snapshot          map[string]interface{} `json:"snapshot"`
	EvidencePointers  []EvidencePointer      `json:"evidencePointers"`
	Summary           string                 `json:"summary"`
	PreviousEntryHash string                 `json:"previousEntryHash"`
}

// ISOTimestamp renders t as ISO-8601 UTC with fixed millisecond precision,
// the fraction precision spec.md §4.1 requires for hash stability.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
