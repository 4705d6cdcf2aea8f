package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"governor/schema"
	"governor/storage/boltstore"
)

func TestGuardrailStoreRateLimitRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guardrail.db")
	store, err := boltstore.Open(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutRateLimit(ctx, "principal_1|send_email", schema.RateLimitCounter{Count: 3, WindowStart: time.Now()}, time.Hour))
	got, err := store.GetRateLimits(ctx, []string{"principal_1|send_email"})
	require.NoError(t, err)
	require.Equal(t, 3, got["principal_1|send_email"].Count)

	require.NoError(t, store.PutRateLimit(ctx, "principal_1|expired", schema.RateLimitCounter{Count: 1, WindowStart: time.Now()}, -time.Second))
	got, err = store.GetRateLimits(ctx, []string{"principal_1|expired"})
	require.NoError(t, err)
	_, ok := got["principal_1|expired"]
	require.False(t, ok, "expired entry must not be returned")
}

func TestGuardrailStoreProtectedEntitiesSeeded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guardrail.db")
	store, err := boltstore.Open(dbPath, []schema.ProtectedEntity{{EntityID: "acct_root", Reason: "treasury account"}})
	require.NoError(t, err)
	defer store.Close()

	entities, err := store.ProtectedEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "acct_root", entities[0].EntityID)
}

func TestGuardrailStoreSpendSinceFiltersByPrincipalAndCartridge(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guardrail.db")
	store, err := boltstore.Open(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.RecordSpend(ctx, schema.SpendSnapshot{PrincipalID: "p1", CartridgeID: "email", Dollars: 100, OccurredAt: now}))
	require.NoError(t, store.RecordSpend(ctx, schema.SpendSnapshot{PrincipalID: "p1", CartridgeID: "payments", Dollars: 50, OccurredAt: now}))
	require.NoError(t, store.RecordSpend(ctx, schema.SpendSnapshot{PrincipalID: "p2", CartridgeID: "email", Dollars: 900, OccurredAt: now}))

	total, err := store.SpendSince(ctx, "p1", "email", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 100.0, total)

	totalAll, err := store.SpendSince(ctx, "p1", "", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 150.0, totalAll)
}

func TestGuardrailStoreCompetenceAccumulates(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guardrail.db")
	store, err := boltstore.Open(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordCompetence(ctx, "p1", "send_email", true))
	require.NoError(t, store.RecordCompetence(ctx, "p1", "send_email", true))
	require.NoError(t, store.RecordCompetence(ctx, "p1", "send_email", false))

	rec, err := store.GetCompetence(ctx, "p1", "send_email")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Successes)
	require.Equal(t, 1, rec.Failures)
}
