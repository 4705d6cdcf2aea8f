// Package cartridge declares the external collaborator contract every
// action family (email, calendar, CRM, payments, ...) must implement to
// plug into the governance runtime, per spec.md §2 and §9.3. The
// orchestrator and policy/risk/guardrail subsystems depend only on this
// interface; they never know which concrete system a cartridge talks to.
package cartridge

import (
	"context"
	"time"

	"governor/schema"
)

// ExecutionOutcome is what Execute reports back to the orchestrator.
type ExecutionOutcome struct {
	Success         bool
	Summary         string
	ExternalRefs    map[string]string
	PartialFailures []string
	UndoRecipe      *schema.UndoRecipe
	DollarsExecuted float64
}

// RateLimitRule is a cartridge-declared rate limit the guardrail engine
// enforces per (principal, actionType).
type RateLimitRule struct {
	ActionType string
	Max        int
	Window     time.Duration
}

// CooldownRule is a cartridge-declared minimum interval between consecutive
// invocations of an action type by the same principal.
type CooldownRule struct {
	ActionType  string
	MinInterval time.Duration
}

// Guardrails is the declarative guardrail configuration a cartridge exposes
// for its action types; the guardrail engine combines this with identity-
// level overrides and persisted counters to make allow/deny decisions.
type Guardrails struct {
	RateLimits []RateLimitRule
	Cooldowns  []CooldownRule
}

// HealthStatus reports a cartridge's connectivity to its external system.
type HealthStatus struct {
	Healthy   bool
	Detail    string
	CheckedAt time.Time
}

// Cartridge is the required capability set every action family implements.
// Optional capabilities (entity resolution, snapshot capture) are declared
// as separate interfaces and detected by type assertion, per spec.md §9.3's
// "dispatch by interface, not by name".
type Cartridge interface {
	// ID returns the cartridge's stable identifier, used to scope spend
	// limits, audit entries, and guardrail state.
	ID() string

	// Initialize prepares the cartridge's connection to its external system.
	// Connection pooling is the cartridge's own responsibility.
	Initialize(ctx context.Context, config map[string]interface{}) error

	// EnrichContext merges derived metadata onto parameters under a
	// "_context" key without overwriting any caller-supplied key.
	EnrichContext(ctx context.Context, actionType string, parameters map[string]interface{}) (map[string]interface{}, error)

	// Execute performs the action's external side effect.
	Execute(ctx context.Context, actionType string, parameters, evaluationContext map[string]interface{}) (ExecutionOutcome, error)

	// GetRiskInput supplies the action-type-specific risk factors the risk
	// scorer combines with identity and guardrail context.
	GetRiskInput(ctx context.Context, actionType string, parameters map[string]interface{}) (schema.RiskInput, error)

	// GetGuardrails returns this cartridge's declared rate limit and
	// cooldown rules.
	GetGuardrails(ctx context.Context) (Guardrails, error)

	// HealthCheck reports whether the cartridge can currently reach its
	// external system. Health checks are cooperative: a cartridge that
	// omits real connectivity probing may simply return Healthy: true.
	HealthCheck(ctx context.Context) HealthStatus
}

// EntityResolver is an optional capability: a cartridge that knows how to
// resolve a free-text reference to a concrete entity in its external
// system implements this in addition to Cartridge.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, inputRef string) (schema.ResolvedEntity, error)
}

// SnapshotCapturer is an optional capability: a cartridge that can capture
// a point-in-time view of the entities an action would touch, for
// inclusion in an approval request's evidence bundle.
type SnapshotCapturer interface {
	CaptureSnapshot(ctx context.Context, actionType string, parameters map[string]interface{}) (map[string]interface{}, error)
}
