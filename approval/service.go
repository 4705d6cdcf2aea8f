package approval

import (
	"context"
	"time"

	governorerrors "governor/errors"
	"governor/schema"
	"governor/storage"
)

// Service handles the create/respond/patch lifecycle of ApprovalRequests,
// per spec.md §4.3. It never touches envelope or ledger state directly;
// the orchestrator composes Service with those subsystems.
type Service struct {
	store storage.ApprovalStore
	now   func() time.Time
}

func New(store storage.ApprovalStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Create persists a new pending ApprovalRequest.
func (s *Service) Create(ctx context.Context, req *schema.ApprovalRequest) error {
	req.Status = schema.ApprovalStatusPending
	req.CreatedAt = s.now()
	return s.store.Create(ctx, req)
}

// Get returns an approval request by ID.
func (s *Service) Get(ctx context.Context, id string) (*schema.ApprovalRequest, error) {
	return s.store.Get(ctx, id)
}

// ResponseInput is what a caller supplies to Respond.
type ResponseInput struct {
	ApprovalID  string
	ApproverID  string
	BindingHash string
	Decision    schema.ApprovalStatus // ApprovalStatusApproved, Rejected, or Patched
	PatchValue  map[string]interface{}
}

// maxCASRetries bounds the optimistic-concurrency retry loop: one retry
// covers the realistic case of a single concurrent responder losing the
// race; a request that still conflicts after that is surfaced to the
// caller rather than retried indefinitely.
const maxCASRetries = 1

// Respond records one approver's decision against a pending request,
// verifying the caller's binding hash still matches what was presented at
// request time. For quorum-gated requests, a vote accumulates until the
// required count is reached; the request only transitions out of pending
// once quorum is met. Concurrent responses race on the store's optimistic
// concurrency check; Respond retries once on a stale-version conflict
// before surfacing the error.
func (s *Service) Respond(ctx context.Context, in ResponseInput) (*schema.ApprovalRequest, error) {
	var lastErr error
	for attempt := 0; attempt <= maxCASRetries; attempt++ {
		req, err := s.store.Get(ctx, in.ApprovalID)
		if err != nil {
			return nil, err
		}
		updated, applyErr := s.applyResponse(req, in)
		if applyErr != nil {
			return nil, applyErr
		}
		expectedVersion := req.Version
		updated.Version = expectedVersion + 1
		if err := s.store.Update(ctx, updated, expectedVersion); err != nil {
			if _, stale := err.(*governorerrors.StaleVersionError); stale {
				lastErr = err
				continue
			}
			return nil, err
		}
		return updated, nil
	}
	return nil, lastErr
}

// applyResponse validates req against in and returns the mutated copy to
// persist, without touching the store. req is never mutated in place so a
// failed CAS leaves the caller free to retry against a fresh read.
func (s *Service) applyResponse(req *schema.ApprovalRequest, in ResponseInput) (*schema.ApprovalRequest, error) {
	if req.Status.Terminal() {
		return nil, &governorerrors.ApprovalAlreadyDecidedError{ApprovalID: req.ID, Status: string(req.Status)}
	}
	if !VerifyBindingHash(req.BindingHash, in.BindingHash) {
		return nil, &governorerrors.BindingHashMismatchError{ApprovalID: req.ID}
	}

	next := *req
	now := s.now()

	if req.Quorum != nil && in.Decision == schema.ApprovalStatusApproved {
		votes := dedupeVotes(req.Quorum.ApprovalHashes, in.ApproverID)
		votes = append(votes, schema.QuorumVote{
			ApproverID: in.ApproverID,
			Hash:       quorumHash(req.BindingHash, in.ApproverID),
			ApprovedAt: now,
		})
		quorum := *req.Quorum
		quorum.ApprovalHashes = votes
		next.Quorum = &quorum
		if len(votes) < quorum.Required {
			return &next, nil
		}
		next.Status = schema.ApprovalStatusApproved
	} else {
		next.Status = in.Decision
	}

	next.RespondedBy = in.ApproverID
	next.RespondedAt = &now
	if in.Decision == schema.ApprovalStatusPatched {
		next.PatchValue = in.PatchValue
	}
	return &next, nil
}

// dedupeVotes returns votes with any existing entry for approverID
// removed, so a repeated vote from the same approver replaces rather than
// double-counts toward quorum.
func dedupeVotes(votes []schema.QuorumVote, approverID string) []schema.QuorumVote {
	out := make([]schema.QuorumVote, 0, len(votes))
	for _, v := range votes {
		if v.ApproverID != approverID {
			out = append(out, v)
		}
	}
	return out
}
