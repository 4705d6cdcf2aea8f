// Package memstore provides single-process, in-memory implementations of
// every storage interface. It exists for dev and test use only — per
// spec.md §9's design note, these implementations document their
// single-process restriction explicitly and must not be used for a
// multi-process deployment, since the guardrail counters, idempotency
// cache, and approval store would silently diverge across processes.
package memstore

import (
	"context"
	"sync"

	governorerrors "governor/errors"
	"governor/schema"
)

// EnvelopeStore is an in-memory, mutex-guarded implementation of
// storage.EnvelopeStore.
type EnvelopeStore struct {
	mu   sync.Mutex
	byID map[string]schema.Envelope
}

// NewEnvelopeStore constructs an empty EnvelopeStore.
func NewEnvelopeStore() *EnvelopeStore {
	return &EnvelopeStore{byID: make(map[string]schema.Envelope)}
}

func (s *EnvelopeStore) Create(ctx context.Context, env *schema.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[env.ID]; exists {
		return &governorerrors.StorageError{Op: "envelope.create", Cause: governorerrors.ErrInvalidTransition}
	}
	s.byID[env.ID] = cloneEnvelope(*env)
	return nil
}

func (s *EnvelopeStore) Get(ctx context.Context, id string) (*schema.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[id]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "envelope", ID: id}
	}
	cloned := cloneEnvelope(env)
	return &cloned, nil
}

func (s *EnvelopeStore) Update(ctx context.Context, env *schema.Envelope, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[env.ID]
	if !ok {
		return &governorerrors.NotFoundError{Kind: "envelope", ID: env.ID}
	}
	if stored.Version != expectedVersion {
		return &governorerrors.StaleVersionError{Kind: "envelope", ID: env.ID, Expected: expectedVersion, Actual: stored.Version}
	}
	s.byID[env.ID] = cloneEnvelope(*env)
	return nil
}

func (s *EnvelopeStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]schema.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Envelope, 0, limit)
	for _, env := range s.byID {
		if env.PrincipalID != principalID {
			continue
		}
		out = append(out, cloneEnvelope(env))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneEnvelope(env schema.Envelope) schema.Envelope {
	out := env
	out.Proposals = append([]schema.Proposal(nil), env.Proposals...)
	out.ResolvedEntities = append([]schema.ResolvedEntity(nil), env.ResolvedEntities...)
	out.DecisionTraces = append([]schema.DecisionTrace(nil), env.DecisionTraces...)
	out.ApprovalRequests = append([]schema.ApprovalRequest(nil), env.ApprovalRequests...)
	out.ExecutionResults = append([]schema.ExecutionResult(nil), env.ExecutionResults...)
	out.AuditEntryIDs = append([]string(nil), env.AuditEntryIDs...)
	return out
}
