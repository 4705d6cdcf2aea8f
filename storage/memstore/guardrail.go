package memstore

import (
	"context"
	"sync"
	"time"

	"governor/schema"
)

type rateEntry struct {
	counter schema.RateLimitCounter
	expires time.Time
}

type cooldownEntry struct {
	state   schema.CooldownState
	expires time.Time
}

// GuardrailStore is an in-memory implementation of storage.GuardrailStore.
// Single-process only: rate-limit counters, cooldowns, and spend snapshots
// live in process memory and are lost on restart, exactly the restriction
// spec.md §9 calls out for dev/test backings.
type GuardrailStore struct {
	mu         sync.Mutex
	rates      map[string]rateEntry
	cooldowns  map[string]cooldownEntry
	protected  []schema.ProtectedEntity
	spend      []schema.SpendSnapshot
	competence map[string]schema.CompetenceRecord
	now        func() time.Time
}

// NewGuardrailStore constructs an empty GuardrailStore. protectedEntities
// seeds the durable protected-entity list.
func NewGuardrailStore(protectedEntities []schema.ProtectedEntity) *GuardrailStore {
	return &GuardrailStore{
		rates:      make(map[string]rateEntry),
		cooldowns:  make(map[string]cooldownEntry),
		protected:  append([]schema.ProtectedEntity(nil), protectedEntities...),
		competence: make(map[string]schema.CompetenceRecord),
		now:        time.Now,
	}
}

func (s *GuardrailStore) GetRateLimits(ctx context.Context, keys []string) (map[string]schema.RateLimitCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make(map[string]schema.RateLimitCounter, len(keys))
	for _, k := range keys {
		entry, ok := s.rates[k]
		if !ok || now.After(entry.expires) {
			continue
		}
		out[k] = entry.counter
	}
	return out, nil
}

func (s *GuardrailStore) PutRateLimit(ctx context.Context, key string, counter schema.RateLimitCounter, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rates[key]
	if ok && existing.counter.WindowStart.After(counter.WindowStart) {
		// A replayed/duplicate increment from an older window: tolerate by
		// taking the max count for the later window, per spec.md §5.
		if existing.counter.Count > counter.Count {
			counter.Count = existing.counter.Count
		}
		counter.WindowStart = existing.counter.WindowStart
	}
	s.rates[key] = rateEntry{counter: counter, expires: s.now().Add(ttl)}
	return nil
}

func (s *GuardrailStore) GetCooldowns(ctx context.Context, keys []string) (map[string]schema.CooldownState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make(map[string]schema.CooldownState, len(keys))
	for _, k := range keys {
		entry, ok := s.cooldowns[k]
		if !ok || now.After(entry.expires) {
			continue
		}
		out[k] = entry.state
	}
	return out, nil
}

func (s *GuardrailStore) PutCooldown(ctx context.Context, key string, state schema.CooldownState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[key] = cooldownEntry{state: state, expires: s.now().Add(ttl)}
	return nil
}

func (s *GuardrailStore) ProtectedEntities(ctx context.Context) ([]schema.ProtectedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ProtectedEntity(nil), s.protected...), nil
}

func (s *GuardrailStore) RecordSpend(ctx context.Context, snap schema.SpendSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spend = append(s.spend, snap)
	return nil
}

func (s *GuardrailStore) SpendSince(ctx context.Context, principalID, cartridgeID string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, snap := range s.spend {
		if snap.PrincipalID != principalID {
			continue
		}
		if cartridgeID != "" && snap.CartridgeID != cartridgeID {
			continue
		}
		if snap.OccurredAt.Before(since) {
			continue
		}
		total += snap.Dollars
	}
	return total, nil
}

func (s *GuardrailStore) GetCompetence(ctx context.Context, principalID, actionType string) (schema.CompetenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.competence[principalID+"|"+actionType]
	if !ok {
		return schema.CompetenceRecord{PrincipalID: principalID, ActionType: actionType}, nil
	}
	return rec, nil
}

func (s *GuardrailStore) RecordCompetence(ctx context.Context, principalID, actionType string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := principalID + "|" + actionType
	rec := s.competence[key]
	rec.PrincipalID = principalID
	rec.ActionType = actionType
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	s.competence[key] = rec
	return nil
}
