// Package boltstore provides a go.etcd.io/bbolt-backed implementation of
// storage.GuardrailStore for single-process durability across restarts —
// the step up from storage/memstore's pure in-memory guardrail state when a
// dev or small deployment wants its rate-limit counters and cooldowns to
// survive a process restart without standing up Redis or Postgres.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"governor/schema"
)

var (
	bucketRates      = []byte("rate_limits")
	bucketCooldowns  = []byte("cooldowns")
	bucketProtected  = []byte("protected_entities")
	bucketSpend      = []byte("spend_snapshots")
	bucketCompetence = []byte("competence")
)

// GuardrailStore persists guardrail.Engine state in a bbolt file. Every
// bucket stores JSON-encoded values; TTL is enforced on read by comparing a
// stored expiry timestamp against now, since bbolt has no native TTL.
type GuardrailStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (creating if absent) a bbolt database at path and ensures its
// buckets exist.
func Open(path string, protectedEntities []schema.ProtectedEntity) (*GuardrailStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRates, bucketCooldowns, bucketProtected, bucketSpend, bucketCompetence} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	store := &GuardrailStore{db: db, now: time.Now}
	if len(protectedEntities) > 0 {
		if err := store.seedProtectedEntities(protectedEntities); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close releases the underlying bbolt file handle.
func (s *GuardrailStore) Close() error { return s.db.Close() }

type ttlValue[T any] struct {
	Value   T     `json:"value"`
	Expires int64 `json:"expires"`
}

func (s *GuardrailStore) GetRateLimits(ctx context.Context, keys []string) (map[string]schema.RateLimitCounter, error) {
	out := make(map[string]schema.RateLimitCounter, len(keys))
	now := s.now()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRates)
		for _, k := range keys {
			raw := b.Get([]byte(k))
			if raw == nil {
				continue
			}
			var stored ttlValue[schema.RateLimitCounter]
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode rate limit %q: %w", k, err)
			}
			if now.UnixNano() > stored.Expires {
				continue
			}
			out[k] = stored.Value
		}
		return nil
	})
	return out, err
}

func (s *GuardrailStore) PutRateLimit(ctx context.Context, key string, counter schema.RateLimitCounter, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRates)
		if raw := b.Get([]byte(key)); raw != nil {
			var existing ttlValue[schema.RateLimitCounter]
			if err := json.Unmarshal(raw, &existing); err == nil {
				if existing.Value.WindowStart.After(counter.WindowStart) {
					if existing.Value.Count > counter.Count {
						counter.Count = existing.Value.Count
					}
					counter.WindowStart = existing.Value.WindowStart
				}
			}
		}
		encoded, err := json.Marshal(ttlValue[schema.RateLimitCounter]{Value: counter, Expires: s.now().Add(ttl).UnixNano()})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), encoded)
	})
}

func (s *GuardrailStore) GetCooldowns(ctx context.Context, keys []string) (map[string]schema.CooldownState, error) {
	out := make(map[string]schema.CooldownState, len(keys))
	now := s.now()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCooldowns)
		for _, k := range keys {
			raw := b.Get([]byte(k))
			if raw == nil {
				continue
			}
			var stored ttlValue[schema.CooldownState]
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode cooldown %q: %w", k, err)
			}
			if now.UnixNano() > stored.Expires {
				continue
			}
			out[k] = stored.Value
		}
		return nil
	})
	return out, err
}

func (s *GuardrailStore) PutCooldown(ctx context.Context, key string, state schema.CooldownState, ttl time.Duration) error {
	encoded, err := json.Marshal(ttlValue[schema.CooldownState]{Value: state, Expires: s.now().Add(ttl).UnixNano()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCooldowns).Put([]byte(key), encoded)
	})
}

func (s *GuardrailStore) ProtectedEntities(ctx context.Context) ([]schema.ProtectedEntity, error) {
	var out []schema.ProtectedEntity
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProtected).ForEach(func(_, raw []byte) error {
			var entity schema.ProtectedEntity
			if err := json.Unmarshal(raw, &entity); err != nil {
				return err
			}
			out = append(out, entity)
			return nil
		})
	})
	return out, err
}

func (s *GuardrailStore) seedProtectedEntities(entities []schema.ProtectedEntity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProtected)
		for _, entity := range entities {
			encoded, err := json.Marshal(entity)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entity.EntityID), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GuardrailStore) RecordSpend(ctx context.Context, snap schema.SpendSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpend)
		encoded, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s|%020d", snap.PrincipalID, seq)
		return b.Put([]byte(key), encoded)
	})
}

func (s *GuardrailStore) SpendSince(ctx context.Context, principalID, cartridgeID string, since time.Time) (float64, error) {
	var total float64
	prefix := []byte(principalID + "|")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSpend).Cursor()
		for k, raw := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, raw = c.Next() {
			var snap schema.SpendSnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return err
			}
			if cartridgeID != "" && snap.CartridgeID != cartridgeID {
				continue
			}
			if snap.OccurredAt.Before(since) {
				continue
			}
			total += snap.Dollars
		}
		return nil
	})
	return total, err
}

func (s *GuardrailStore) GetCompetence(ctx context.Context, principalID, actionType string) (schema.CompetenceRecord, error) {
	key := []byte(principalID + "|" + actionType)
	rec := schema.CompetenceRecord{PrincipalID: principalID, ActionType: actionType}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCompetence).Get(key)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

func (s *GuardrailStore) RecordCompetence(ctx context.Context, principalID, actionType string, success bool) error {
	key := []byte(principalID + "|" + actionType)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompetence)
		rec := schema.CompetenceRecord{PrincipalID: principalID, ActionType: actionType}
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
		}
		if success {
			rec.Successes++
		} else {
			rec.Failures++
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}
