package memstore

import (
	"context"
	"sort"
	"sync"

	governorerrors "governor/errors"
	"governor/schema"
	"governor/storage"
)

// LedgerStore is an in-memory, append-only implementation of
// storage.LedgerStore. Appends are serialized by mu, satisfying the
// per-ledger-instance total ordering spec.md §4.1 and §5 require.
type LedgerStore struct {
	mu      sync.Mutex
	entries []schema.AuditEntry
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

func (s *LedgerStore) Append(ctx context.Context, entry *schema.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 {
		tail := s.entries[len(s.entries)-1]
		if entry.PreviousEntryHash != tail.EntryHash {
			return &governorerrors.LedgerAppendError{Cause: governorerrors.ErrInvalidTransition}
		}
	} else if entry.PreviousEntryHash != "" {
		return &governorerrors.LedgerAppendError{Cause: governorerrors.ErrInvalidTransition}
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *LedgerStore) Tail(ctx context.Context) (*schema.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	tail := s.entries[len(s.entries)-1]
	return &tail, nil
}

func (s *LedgerStore) Query(ctx context.Context, filter storage.Filter) ([]schema.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.AuditEntry, 0)
	for _, e := range s.entries {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.EnvelopeID != "" && e.EnvelopeID != filter.EnvelopeID {
			continue
		}
		if !filter.After.IsZero() && !e.Timestamp.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !e.Timestamp.Before(filter.Before) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *LedgerStore) All(ctx context.Context) ([]schema.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]schema.AuditEntry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// EvidenceStore is an in-memory implementation of storage.EvidenceStore.
type EvidenceStore struct {
	mu      sync.Mutex
	content map[string][]byte
}

func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{content: make(map[string][]byte)}
}

func (s *EvidenceStore) Put(ctx context.Context, ref string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[ref] = append([]byte(nil), content...)
	return nil
}

func (s *EvidenceStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.content[ref]
	if !ok {
		return nil, &governorerrors.NotFoundError{Kind: "evidence", ID: ref}
	}
	return append([]byte(nil), content...), nil
}
