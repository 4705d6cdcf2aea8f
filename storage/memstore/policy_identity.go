package memstore

import (
	"context"
	"sync"

	governorerrors "governor/errors"
	"governor/schema"
)

// PolicyStore is an in-memory implementation of storage.PolicyStore.
type PolicyStore struct {
	mu   sync.Mutex
	byID map[string]schema.Policy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{byID: make(map[string]schema.Policy)}
}

func (s *PolicyStore) Create(ctx context.Context, p *schema.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = *p
	return nil
}

func (s *PolicyStore) Get(ctx context.Context, id string) (*schema.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "policy", ID: id}
	}
	return &p, nil
}

func (s *PolicyStore) Update(ctx context.Context, p *schema.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return &governorerrors.NotFoundError{Kind: "policy", ID: p.ID}
	}
	s.byID[p.ID] = *p
	return nil
}

func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return &governorerrors.NotFoundError{Kind: "policy", ID: id}
	}
	delete(s.byID, id)
	return nil
}

func (s *PolicyStore) ListActive(ctx context.Context, organizationID, cartridgeID string) ([]schema.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Policy, 0, len(s.byID))
	for _, p := range s.byID {
		if !p.Active {
			continue
		}
		if p.OrganizationID != "" && p.OrganizationID != organizationID {
			continue
		}
		if p.CartridgeID != "" && p.CartridgeID != cartridgeID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// IdentityStore is an in-memory implementation of storage.IdentityStore.
type IdentityStore struct {
	mu   sync.Mutex
	byID map[string]schema.IdentitySpec
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{byID: make(map[string]schema.IdentitySpec)}
}

func (s *IdentityStore) Get(ctx context.Context, principalID string) (*schema.IdentitySpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.byID[principalID]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "identity", ID: principalID}
	}
	return &spec, nil
}

func (s *IdentityStore) Put(ctx context.Context, spec *schema.IdentitySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[spec.PrincipalID] = *spec
	return nil
}
