// Package storage declares the store interfaces the orchestrator and its
// subsystems depend on. Concrete implementations live in storage/memstore
// (single-process, dev/test only), storage/sqlstore (gorm+postgres, selected
// by DATABASE_URL), storage/litestore (modernc.org/sqlite ledger and
// evidence stores) and storage/boltstore (bbolt guardrail state). Any
// implementation must provide the ordering and atomic-version-check
// semantics documented on each method; callers never assume a particular
// backing technology.
package storage

import (
	"context"
	"time"

	"governor/schema"
)

// EnvelopeStore persists Envelopes with optimistic concurrency: every
// mutating call is conditioned on the caller's expected version.
type EnvelopeStore interface {
	Create(ctx context.Context, env *schema.Envelope) error
	Get(ctx context.Context, id string) (*schema.Envelope, error)
	// Update persists env only if the stored version equals expectedVersion;
	// on success the stored version becomes env.Version (which the caller
	// must have already incremented). A mismatch returns
	// *errors.StaleVersionError.
	Update(ctx context.Context, env *schema.Envelope, expectedVersion uint64) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]schema.Envelope, error)
}

// ApprovalStore persists ApprovalRequests with optimistic concurrency.
type ApprovalStore interface {
	Create(ctx context.Context, req *schema.ApprovalRequest) error
	Get(ctx context.Context, id string) (*schema.ApprovalRequest, error)
	Update(ctx context.Context, req *schema.ApprovalRequest, expectedVersion uint64) error
	ListPending(ctx context.Context, before time.Time) ([]schema.ApprovalRequest, error)
	List(ctx context.Context, limit int) ([]schema.ApprovalRequest, error)
}

// PolicyStore persists declarative Policies.
type PolicyStore interface {
	Create(ctx context.Context, p *schema.Policy) error
	Get(ctx context.Context, id string) (*schema.Policy, error)
	Update(ctx context.Context, p *schema.Policy) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context, organizationID, cartridgeID string) ([]schema.Policy, error)
}

// IdentityStore persists per-principal IdentitySpecs.
type IdentityStore interface {
	Get(ctx context.Context, principalID string) (*schema.IdentitySpec, error)
	Put(ctx context.Context, spec *schema.IdentitySpec) error
}

// LedgerStore persists the append-only audit chain. Append must be called
// under the ledger package's serialization discipline; the store itself
// only needs to support atomic, ordered appends and range queries.
type LedgerStore interface {
	// Append stores entry as the new tail of the chain. Implementations
	// that support compare-and-append should key the check on
	// entry.PreviousEntryHash equal to the current tail's EntryHash,
	// returning a conflict error otherwise so callers can recompute and
	// retry instead of silently forking the chain.
	Append(ctx context.Context, entry *schema.AuditEntry) error
	Tail(ctx context.Context) (*schema.AuditEntry, error)
	Query(ctx context.Context, filter Filter) ([]schema.AuditEntry, error)
	All(ctx context.Context) ([]schema.AuditEntry, error)
}

// Filter narrows a ledger query. Zero values mean "no constraint" except
// Limit, where 0 means "use the store's default page size".
type Filter struct {
	EventType  schema.EventType
	EntityType string
	EntityID   string
	EnvelopeID string
	After      time.Time
	Before     time.Time
	Limit      int
}

// EvidenceStore persists out-of-line evidence content referenced by
// schema.EvidencePointer.
type EvidenceStore interface {
	Put(ctx context.Context, ref string, content []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// GuardrailStore persists transient rate-limit and cooldown state with
// store-enforced TTL, plus the durable protected-entity list, spend
// snapshots, and competence records.
type GuardrailStore interface {
	GetRateLimits(ctx context.Context, keys []string) (map[string]schema.RateLimitCounter, error)
	PutRateLimit(ctx context.Context, key string, counter schema.RateLimitCounter, ttl time.Duration) error

	GetCooldowns(ctx context.Context, keys []string) (map[string]schema.CooldownState, error)
	PutCooldown(ctx context.Context, key string, state schema.CooldownState, ttl time.Duration) error

	ProtectedEntities(ctx context.Context) ([]schema.ProtectedEntity, error)

	RecordSpend(ctx context.Context, snap schema.SpendSnapshot) error
	SpendSince(ctx context.Context, principalID, cartridgeID string, since time.Time) (float64, error)

	GetCompetence(ctx context.Context, principalID, actionType string) (schema.CompetenceRecord, error)
	RecordCompetence(ctx context.Context, principalID, actionType string, success bool) error
}

// IdempotencyStore implements the orchestrator's exactly-once replay
// contract: for any given key, the first writer wins and subsequent reads
// within the TTL return the same stored response.
type IdempotencyStore interface {
	// Get returns ok=false if the key is unseen or has expired.
	Get(ctx context.Context, key string) (body []byte, ok bool, err error)
	// Put stores body for key with the given TTL. Implementations must
	// make this a first-writer-wins operation: a racing Put for the same
	// key returns the value that actually won without error.
	Put(ctx context.Context, key string, body []byte, ttl time.Duration) error
}
