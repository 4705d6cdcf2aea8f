package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	governorerrors "governor/errors"
	"governor/storage"
)

// idempotencyTTL is how long a replayed idempotency key returns the first
// writer's stored result, per spec.md §4.4.
const idempotencyTTL = 5 * time.Minute

// idempotency wraps a storage.IdempotencyStore with JSON encode/decode of
// the operation's result, so callers work with typed Go values instead of
// raw bytes. keyLocks serializes concurrent callers sharing one key within
// this process so fn only ever actually runs once per key; storage's
// first-writer-wins Put is the cross-process backstop for deployments with
// more than one orchestrator instance.
type idempotency struct {
	store    storage.IdempotencyStore
	keyLocks sync.Map // key string -> *sync.Mutex
}

func (idem *idempotency) lockFor(key string) *sync.Mutex {
	lock, _ := idem.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// run executes fn unless key has already been seen, in which case it
// decodes and returns the first writer's stored result. fn's result is
// marshaled and stored before being returned, so a racing caller with the
// same key observes exactly one outcome regardless of which goroutine's fn
// actually ran (storage.IdempotencyStore.Put is first-writer-wins).
func run[T any](ctx context.Context, idem *idempotency, key string, fn func() (T, error)) (T, error) {
	var zero T
	if key == "" {
		return fn()
	}

	lock := idem.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if cached, ok, err := idem.store.Get(ctx, key); err != nil {
		return zero, err
	} else if ok {
		var result T
		if err := json.Unmarshal(cached, &result); err != nil {
			return zero, &governorerrors.StorageError{Op: "idempotency.decode", Cause: err}
		}
		return result, nil
	}

	result, err := fn()
	if err != nil {
		return zero, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, &governorerrors.StorageError{Op: "idempotency.encode", Cause: err}
	}
	if err := idem.store.Put(ctx, key, encoded, idempotencyTTL); err != nil {
		return zero, err
	}

	// Put is first-writer-wins: a racing caller may have stored a different
	// result for the same key while fn() above was running. Re-read so every
	// caller returns the one result that actually won, not whatever its own
	// fn() happened to compute.
	won, ok, err := idem.store.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if !ok {
		return result, nil
	}
	var authoritative T
	if err := json.Unmarshal(won, &authoritative); err != nil {
		return zero, &governorerrors.StorageError{Op: "idempotency.decode", Cause: err}
	}
	return authoritative, nil
}
