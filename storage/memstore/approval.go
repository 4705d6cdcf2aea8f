package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	governorerrors "governor/errors"
	"governor/schema"
)

// ApprovalStore is an in-memory implementation of storage.ApprovalStore.
type ApprovalStore struct {
	mu   sync.Mutex
	byID map[string]schema.ApprovalRequest
}

func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{byID: make(map[string]schema.ApprovalRequest)}
}

func (s *ApprovalStore) Create(ctx context.Context, req *schema.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[req.ID]; exists {
		return &governorerrors.StorageError{Op: "approval.create", Cause: governorerrors.ErrInvalidTransition}
	}
	s.byID[req.ID] = cloneApproval(*req)
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*schema.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "approval", ID: id}
	}
	cloned := cloneApproval(req)
	return &cloned, nil
}

func (s *ApprovalStore) Update(ctx context.Context, req *schema.ApprovalRequest, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[req.ID]
	if !ok {
		return &governorerrors.NotFoundError{Kind: "approval", ID: req.ID}
	}
	if stored.Version != expectedVersion {
		return &governorerrors.StaleVersionError{Kind: "approval", ID: req.ID, Expected: expectedVersion, Actual: stored.Version}
	}
	s.byID[req.ID] = cloneApproval(*req)
	return nil
}

func (s *ApprovalStore) ListPending(ctx context.Context, before time.Time) ([]schema.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.ApprovalRequest, 0)
	for _, req := range s.byID {
		if req.Status == schema.ApprovalStatusPending && req.ExpiresAt.Before(before) {
			out = append(out, cloneApproval(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *ApprovalStore) List(ctx context.Context, limit int) ([]schema.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.ApprovalRequest, 0, len(s.byID))
	for _, req := range s.byID {
		out = append(out, cloneApproval(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneApproval(req schema.ApprovalRequest) schema.ApprovalRequest {
	out := req
	out.SuggestedButtons = append([]string(nil), req.SuggestedButtons...)
	out.Approvers = append([]string(nil), req.Approvers...)
	if req.Quorum != nil {
		q := *req.Quorum
		q.ApprovalHashes = append([]schema.QuorumVote(nil), req.Quorum.ApprovalHashes...)
		out.Quorum = &q
	}
	return out
}
