package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"governor/storage/memstore"
)

func TestIdempotencyStoreGetMissReturnsFalse(t *testing.T) {
	store := memstore.NewIdempotencyStore()
	body, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, body)
}

func TestIdempotencyStorePutThenGetRoundTrips(t *testing.T) {
	store := memstore.NewIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", []byte(`{"envelopeId":"env_1"}`), 5*time.Minute))

	body, ok, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"envelopeId":"env_1"}`, string(body))
}

func TestIdempotencyStoreFirstWriterWins(t *testing.T) {
	store := memstore.NewIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key-1", []byte("first"), 5*time.Minute))
	require.NoError(t, store.Put(ctx, "key-1", []byte("second"), 5*time.Minute))

	body, ok, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", string(body))
}

// TestIdempotencyStoreExpiresAfterTTL exercises spec.md invariant #5:
// replaying within the TTL window returns the original response, but once
// the window has elapsed the key is no longer considered present, freeing
// the orchestrator to re-execute under the same Idempotency-Key. A short
// TTL keeps the real-clock wait bounded.
func TestIdempotencyStoreExpiresAfterTTL(t *testing.T) {
	store := memstore.NewIdempotencyStore()
	ctx := context.Background()
	ttl := 20 * time.Millisecond

	require.NoError(t, store.Put(ctx, "key-1", []byte("first"), ttl))

	body, ok, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok, "replay inside the TTL window must still hit")
	require.Equal(t, "first", string(body))

	time.Sleep(ttl + 10*time.Millisecond)

	_, ok, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, ok, "replay past the TTL window must miss")

	require.NoError(t, store.Put(ctx, "key-1", []byte("second"), ttl))
	body, ok, err = store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", string(body), "an expired key no longer blocks a fresh write under the same key")
}
