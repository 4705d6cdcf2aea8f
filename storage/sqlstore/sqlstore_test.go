package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	governorerrors "governor/errors"
	"governor/schema"
	"governor/storage/sqlstore"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, sqlstore.AutoMigrate(db))
	return db
}

func TestIdentityStoreRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := sqlstore.NewIdentityStore(db)
	ctx := context.Background()

	spec := &schema.IdentitySpec{
		PrincipalID:       "user_1",
		OrganizationID:    "org_1",
		GovernanceProfile: schema.ProfileGuarded,
		RiskTolerance: map[schema.RiskCategory]schema.ApprovalRequirement{
			schema.RiskLow: schema.ApprovalNone,
		},
	}
	require.NoError(t, store.Put(ctx, spec))

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, "org_1", got.OrganizationID)
	require.Equal(t, schema.ApprovalNone, got.RiskTolerance[schema.RiskLow])
}

func TestIdentityStoreGetMissingReturnsNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := sqlstore.NewIdentityStore(db)
	_, err := store.Get(context.Background(), "nope")
	var notFound *governorerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPolicyStoreCRUD(t *testing.T) {
	db := setupTestDB(t)
	store := sqlstore.NewPolicyStore(db)
	ctx := context.Background()

	p := &schema.Policy{
		ID:       "policy_1",
		Priority: 5,
		Active:   true,
		Rule: schema.PolicyRule{
			Composition: schema.CompositionLeaf,
			Condition:   &schema.Condition{Field: "proposal.actionType", Operator: schema.OpEq, Value: "send_email"},
		},
		Effect: schema.PolicyEffectAllow,
	}
	require.NoError(t, store.Create(ctx, p))

	got, err := store.Get(ctx, "policy_1")
	require.NoError(t, err)
	require.Equal(t, schema.PolicyEffectAllow, got.Effect)

	got.Effect = schema.PolicyEffectDeny
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, "policy_1")
	require.NoError(t, err)
	require.Equal(t, schema.PolicyEffectDeny, updated.Effect)

	active, err := store.ListActive(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.Delete(ctx, "policy_1"))
	_, err = store.Get(ctx, "policy_1")
	var notFound *governorerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestApprovalStoreOptimisticConcurrency(t *testing.T) {
	db := setupTestDB(t)
	store := sqlstore.NewApprovalStore(db)
	ctx := context.Background()

	req := &schema.ApprovalRequest{
		ID:         "approval_1",
		Version:    1,
		EnvelopeID: "envelope_1",
		Status:     schema.ApprovalStatusPending,
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(ctx, req))

	req.Version = 2
	req.Status = schema.ApprovalStatusApproved
	require.NoError(t, store.Update(ctx, req, 1))

	req.Version = 3
	err := store.Update(ctx, req, 1)
	var staleErr *governorerrors.StaleVersionError
	require.ErrorAs(t, err, &staleErr)

	got, err := store.Get(ctx, "approval_1")
	require.NoError(t, err)
	require.Equal(t, schema.ApprovalStatusApproved, got.Status)
}

func TestApprovalStoreListPendingFiltersByStatusAndExpiry(t *testing.T) {
	db := setupTestDB(t)
	store := sqlstore.NewApprovalStore(db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Create(ctx, &schema.ApprovalRequest{
		ID: "a1", Version: 1, Status: schema.ApprovalStatusPending, ExpiresAt: now.Add(-time.Minute), CreatedAt: now,
	}))
	require.NoError(t, store.Create(ctx, &schema.ApprovalRequest{
		ID: "a2", Version: 1, Status: schema.ApprovalStatusPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, store.Create(ctx, &schema.ApprovalRequest{
		ID: "a3", Version: 1, Status: schema.ApprovalStatusApproved, ExpiresAt: now.Add(-time.Minute), CreatedAt: now,
	}))

	expired, err := store.ListPending(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "a1", expired[0].ID)
}
