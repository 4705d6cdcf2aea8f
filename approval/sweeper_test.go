package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"governor/approval"
	"governor/schema"
	"governor/storage/memstore"
)

func TestSweeperDeniesExpiredByDefault(t *testing.T) {
	approvalStore := memstore.NewApprovalStore()
	envelopeStore := memstore.NewEnvelopeStore()
	svc := approval.New(approvalStore)
	ctx := context.Background()

	req := newRequest(t, nil)
	req.ExpiresAt = time.Now().Add(-time.Minute)
	req.ExpiredBehavior = schema.ExpiredBehaviorDeny
	require.NoError(t, svc.Create(ctx, req))

	sweeper := approval.NewSweeper(svc, envelopeStore, nil)
	sweeper.Sweep(ctx)

	updated, err := svc.Get(ctx, "apr_1")
	require.NoError(t, err)
	require.Equal(t, schema.ApprovalStatusExpired, updated.Status)
}

func TestSweeperReRequestsWhenConfigured(t *testing.T) {
	approvalStore := memstore.NewApprovalStore()
	envelopeStore := memstore.NewEnvelopeStore()
	svc := approval.New(approvalStore)
	ctx := context.Background()

	require.NoError(t, envelopeStore.Create(ctx, &schema.Envelope{
		ID: "env_1", Version: 3, Status: schema.StatusPendingApproval, PrincipalID: "user_1",
	}))

	req := newRequest(t, nil)
	req.CreatedAt = time.Now().Add(-2 * time.Hour)
	req.ExpiresAt = time.Now().Add(-time.Minute)
	req.ExpiredBehavior = schema.ExpiredBehaviorReRequest
	require.NoError(t, svc.Create(ctx, req))

	sweeper := approval.NewSweeper(svc, envelopeStore, nil)
	sweeper.Sweep(ctx)

	old, err := svc.Get(ctx, "apr_1")
	require.NoError(t, err)
	require.Equal(t, schema.ApprovalStatusExpired, old.Status)

	all, err := approvalStore.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2, "expiry must create exactly one fresh pending request")

	var fresh *schema.ApprovalRequest
	for i := range all {
		if all[i].ID != "apr_1" {
			fresh = &all[i]
		}
	}
	require.NotNil(t, fresh)
	require.Equal(t, schema.ApprovalStatusPending, fresh.Status)
	require.EqualValues(t, 3, fresh.EnvelopeVersion)
	require.NotEqual(t, old.BindingHash, fresh.BindingHash,
		"re-requesting at a new envelope version must mint a new binding hash")
	require.False(t, approval.VerifyBindingHash(fresh.BindingHash, old.BindingHash),
		"the expired request's binding hash must not authorize the re-requested approval")
}

func TestSweeperSkipsReRequestWhenEnvelopeTerminal(t *testing.T) {
	approvalStore := memstore.NewApprovalStore()
	envelopeStore := memstore.NewEnvelopeStore()
	svc := approval.New(approvalStore)
	ctx := context.Background()

	require.NoError(t, envelopeStore.Create(ctx, &schema.Envelope{
		ID: "env_1", Version: 1, Status: schema.StatusDenied, PrincipalID: "user_1",
	}))

	req := newRequest(t, nil)
	req.CreatedAt = time.Now().Add(-2 * time.Hour)
	req.ExpiresAt = time.Now().Add(-time.Minute)
	req.ExpiredBehavior = schema.ExpiredBehaviorReRequest
	require.NoError(t, svc.Create(ctx, req))

	sweeper := approval.NewSweeper(svc, envelopeStore, nil)
	sweeper.Sweep(ctx)

	all, err := approvalStore.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1, "an envelope in a terminal state must not get a fresh approval request")
}
