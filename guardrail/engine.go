// Package guardrail implements the transient, TTL-bound enforcement state
// the policy engine's RATE_LIMIT, COOLDOWN, PROTECTED_ENTITY, and
// SPEND_LIMIT checks consult, per spec.md §3 and §4.2. All state here is
// advisory counters and windows; the authoritative allow/deny decision is
// made by the policy engine, not this package.
package guardrail

import (
	"context"
	"fmt"
	"time"

	"governor/schema"
	"governor/storage"
)

// rateLimitTTL bounds how long a sliding-window counter survives without a
// fresh increment; set comfortably above any realistic window so a counter
// never expires mid-window.
const rateLimitTTL = 24 * time.Hour

// cooldownTTL bounds how long a cooldown timestamp survives without a fresh
// touch.
const cooldownTTL = 24 * time.Hour

// Engine wraps a storage.GuardrailStore with the sliding-window, cooldown,
// spend-window, and competence arithmetic the policy engine needs.
type Engine struct {
	store storage.GuardrailStore
	now   func() time.Time
}

func New(store storage.GuardrailStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// RateLimitCheck reports whether (scope, principalID) is currently within
// its sliding-window budget, without mutating state; the increment only
// happens on a successful commit, per spec.md §4.2 step 4 and §5.
type RateLimitCheck struct {
	Key     string
	Count   int
	Max     int
	Window  time.Duration
	Allowed bool
}

func rateLimitKey(scope, principalID, actionType string) string {
	return fmt.Sprintf("rate:%s:%s:%s", scope, principalID, actionType)
}

// CheckRateLimit reads the current count for (scope, principalID,
// actionType) without incrementing it.
func (e *Engine) CheckRateLimit(ctx context.Context, scope, principalID, actionType string, max int, window time.Duration) (RateLimitCheck, error) {
	key := rateLimitKey(scope, principalID, actionType)
	counters, err := e.store.GetRateLimits(ctx, []string{key})
	if err != nil {
		return RateLimitCheck{}, err
	}
	counter, ok := counters[key]
	now := e.now()
	if !ok || now.Sub(counter.WindowStart) >= window {
		return RateLimitCheck{Key: key, Count: 0, Max: max, Window: window, Allowed: max > 0}, nil
	}
	return RateLimitCheck{Key: key, Count: counter.Count, Max: max, Window: window, Allowed: counter.Count < max}, nil
}

// CommitRateLimit increments the (scope, principalID, actionType) counter
// after a proposal has actually been committed to execution, resetting the
// window if the previous one has elapsed.
func (e *Engine) CommitRateLimit(ctx context.Context, scope, principalID, actionType string, window time.Duration) error {
	key := rateLimitKey(scope, principalID, actionType)
	counters, err := e.store.GetRateLimits(ctx, []string{key})
	if err != nil {
		return err
	}
	now := e.now()
	counter, ok := counters[key]
	if !ok || now.Sub(counter.WindowStart) >= window {
		counter = schema.RateLimitCounter{Count: 1, WindowStart: now}
	} else {
		counter.Count++
	}
	return e.store.PutRateLimit(ctx, key, counter, rateLimitTTL)
}

func cooldownKey(actionType, scope string) string {
	return fmt.Sprintf("cooldown:%s:%s", actionType, scope)
}

// CheckCooldown reports whether enough time has passed since the last
// invocation of (actionType, scope).
func (e *Engine) CheckCooldown(ctx context.Context, actionType, scope string, minInterval time.Duration) (bool, error) {
	key := cooldownKey(actionType, scope)
	states, err := e.store.GetCooldowns(ctx, []string{key})
	if err != nil {
		return false, err
	}
	state, ok := states[key]
	if !ok {
		return true, nil
	}
	elapsed := e.now().Sub(time.UnixMilli(state.LastTimestampMs))
	return elapsed >= minInterval, nil
}

// CommitCooldown records actionType/scope as having just fired.
func (e *Engine) CommitCooldown(ctx context.Context, actionType, scope string) error {
	key := cooldownKey(actionType, scope)
	state := schema.CooldownState{LastTimestampMs: e.now().UnixMilli()}
	return e.store.PutCooldown(ctx, key, state, cooldownTTL)
}

// IsProtectedEntity reports whether entityID appears on the protected list,
// along with the reason if so.
func (e *Engine) IsProtectedEntity(ctx context.Context, entityID string) (bool, string, error) {
	entities, err := e.store.ProtectedEntities(ctx)
	if err != nil {
		return false, "", err
	}
	for _, p := range entities {
		if p.EntityID == entityID {
			return true, p.Reason, nil
		}
	}
	return false, "", nil
}

// RecordSpend appends an executed action's dollar exposure for spend-window
// accounting.
func (e *Engine) RecordSpend(ctx context.Context, principalID, cartridgeID string, dollars float64) error {
	return e.store.RecordSpend(ctx, schema.SpendSnapshot{
		PrincipalID: principalID,
		CartridgeID: cartridgeID,
		Dollars:     dollars,
		OccurredAt:  e.now(),
	})
}

// GetCompetence returns the principal's rolling success/failure record for
// actionType.
func (e *Engine) GetCompetence(ctx context.Context, principalID, actionType string) (schema.CompetenceRecord, error) {
	return e.store.GetCompetence(ctx, principalID, actionType)
}

// RecordCompetence appends one outcome to the principal's competence record
// for actionType.
func (e *Engine) RecordCompetence(ctx context.Context, principalID, actionType string, success bool) error {
	return e.store.RecordCompetence(ctx, principalID, actionType, success)
}
