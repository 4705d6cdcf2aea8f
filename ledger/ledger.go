// Package ledger implements the hash-chained, append-only audit trail
// described in spec.md §4.1 and §6: every governance-relevant event is
// recorded as a schema.AuditEntry whose EntryHash commits to the entry's
// content and to the previous entry's hash, so any tamper breaks the chain
// at a detectable, locatable point.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"governor/canon"
	governorerrors "governor/errors"
	"governor/schema"
	"governor/storage"
)

const (
	schemaVersion    = 1
	chainHashVersion = 1
)

// Ledger serializes appends to a single logical chain backed by a
// storage.LedgerStore, and offloads oversized evidence attachments to a
// storage.EvidenceStore.
type Ledger struct {
	mu       sync.Mutex
	store    storage.LedgerStore
	evidence storage.EvidenceStore
	now      func() time.Time
}

func New(store storage.LedgerStore, evidence storage.EvidenceStore) *Ledger {
	return &Ledger{store: store, evidence: evidence, now: time.Now}
}

// RecordInput describes one audit event to append. Evidence holds named raw
// attachments (e.g. "decisionTrace", "contextSnapshot"); each is hashed and
// either embedded into Snapshot or offloaded to the evidence store depending
// on size, per spec.md §4.1.
type RecordInput struct {
	EventType       schema.EventType
	ActorType       string
	ActorID         string
	EntityType      string
	EntityID        string
	RiskCategory    schema.RiskCategory
	VisibilityLevel schema.VisibilityLevel
	Summary         string
	Snapshot        map[string]interface{}
	Evidence        map[string][]byte
	EnvelopeID      string
	OrganizationID  string
}

// Record redacts and hashes input, chains it onto the current tail, and
// appends it. It returns the stored entry, including its computed EntryHash.
func (l *Ledger) Record(ctx context.Context, input RecordInput) (*schema.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := input.Snapshot
	if snapshot == nil {
		snapshot = map[string]interface{}{}
	}
	redacted, redactedFields := Redact(snapshot)

	id := canon.NewID("audit")
	pointers, err := l.placeEvidence(ctx, id, input.Evidence, redacted)
	if err != nil {
		return nil, err
	}

	tail, err := l.store.Tail(ctx)
	if err != nil {
		return nil, &governorerrors.StorageError{Op: "ledger.tail", Cause: err}
	}
	previousHash := ""
	if tail != nil {
		previousHash = tail.EntryHash
	}

	timestamp := l.now().UTC()
	entry := schema.AuditEntry{
		ID:                id,
		EventType:         input.EventType,
		Timestamp:         timestamp,
		ActorType:         input.ActorType,
		ActorID:           input.ActorID,
		EntityType:        input.EntityType,
		EntityID:          input.EntityID,
		RiskCategory:      input.RiskCategory,
		VisibilityLevel:   input.VisibilityLevel,
		Summary:           input.Summary,
		Snapshot:          redacted,
		EvidencePointers:  pointers,
		RedactionApplied:  len(redactedFields) > 0,
		RedactedFields:    redactedFields,
		SchemaVersion:     schemaVersion,
		ChainHashVersion:  chainHashVersion,
		PreviousEntryHash: previousHash,
		EnvelopeID:        input.EnvelopeID,
		OrganizationID:    input.OrganizationID,
	}

	hash, err := canon.HashHex(hashableView(&entry))
	if err != nil {
		return nil, fmt.Errorf("ledger: compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	if err := l.store.Append(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func hashableView(entry *schema.AuditEntry) schema.HashableView {
	return schema.HashableView{
		ChainHashVersion:  entry.ChainHashVersion,
		SchemaVersion:     entry.SchemaVersion,
		ID:                entry.ID,
		EventType:         entry.EventType,
		Timestamp:         schema.ISOTimestamp(entry.Timestamp),
		ActorType:         entry.ActorType,
		ActorID:           entry.ActorID,
		EntityType:        entry.EntityType,
		EntityID:          entry.EntityID,
		RiskCategory:      entry.RiskCategory,
		Snapshot:          entry.Snapshot,
		EvidencePointers:  entry.EvidencePointers,
		Summary:           entry.Summary,
		PreviousEntryHash: entry.PreviousEntryHash,
	}
}

// placeEvidence hashes each named attachment and either folds it into
// snapshot under "evidence.<name>" (base64, for attachments at or under
// inlineThresholdBytes) or offloads it to the evidence store and returns a
// pointer referencing it (for larger attachments).
func (l *Ledger) placeEvidence(ctx context.Context, entryID string, attachments map[string][]byte, snapshot map[string]interface{}) ([]schema.EvidencePointer, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	pointers := make([]schema.EvidencePointer, 0, len(attachments))
	index := 0
	for name, content := range attachments {
		sum := sha256.Sum256(content)
		hashHex := fmt.Sprintf("%x", sum)
		if len(content) <= inlineThresholdBytes {
			inlineEvidence(snapshot, name, content)
			pointers = append(pointers, schema.EvidencePointer{Type: name, Hash: hashHex})
			index++
			continue
		}
		ref := evidenceRef(entryID, index)
		if err := l.storeEvidence(ctx, ref, content); err != nil {
			return nil, err
		}
		pointers = append(pointers, schema.EvidencePointer{Type: name, Hash: hashHex, StorageRef: ref})
		index++
	}
	return pointers, nil
}

func inlineEvidence(snapshot map[string]interface{}, name string, content []byte) {
	bucket, ok := snapshot["evidence"].(map[string]interface{})
	if !ok {
		bucket = map[string]interface{}{}
		snapshot["evidence"] = bucket
	}
	bucket[name] = base64.StdEncoding.EncodeToString(content)
}

// Tail returns the current chain tail, or nil if the ledger is empty.
func (l *Ledger) Tail(ctx context.Context) (*schema.AuditEntry, error) {
	return l.store.Tail(ctx)
}

// Query returns entries matching filter.
func (l *Ledger) Query(ctx context.Context, filter storage.Filter) ([]schema.AuditEntry, error) {
	return l.store.Query(ctx, filter)
}
