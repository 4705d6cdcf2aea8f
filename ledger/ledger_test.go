package ledger_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"governor/ledger"
	"governor/schema"
	"governor/storage/memstore"
)

func newLedger() *ledger.Ledger {
	return ledger.New(memstore.NewLedgerStore(), memstore.NewEvidenceStore())
}

func newLedgerWithEvidenceStore(evidence *memstore.EvidenceStore) *ledger.Ledger {
	return ledger.New(memstore.NewLedgerStore(), evidence)
}

func TestRecordChainsHashes(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	first, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionProposed,
		ActorType:  "principal",
		ActorID:    "user_1",
		EntityType: "envelope",
		EntityID:   "env_1",
		Summary:    "action proposed",
		Snapshot:   map[string]interface{}{"actionType": "send_email"},
	})
	require.NoError(t, err)
	require.Empty(t, first.PreviousEntryHash)
	require.NotEmpty(t, first.EntryHash)

	second, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionEvaluated,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "envelope",
		EntityID:   "env_1",
		Summary:    "action evaluated",
		Snapshot:   map[string]interface{}{"riskCategory": "low"},
	})
	require.NoError(t, err)
	require.Equal(t, first.EntryHash, second.PreviousEntryHash)

	result, err := ledger.VerifyChain(ctx, l)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 2, result.EntriesSeen)
}

func TestRecordRedactsCredentialFields(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	entry, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventConnectionEstablished,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "connection",
		EntityID:   "conn_1",
		Summary:    "connection established",
		Snapshot: map[string]interface{}{
			"apiKey":  "sk-abc123",
			"comment": "visible",
		},
	})
	require.NoError(t, err)
	require.True(t, entry.RedactionApplied)
	require.Contains(t, entry.RedactedFields, "apiKey")
	require.Equal(t, ledger.RedactedValue, entry.Snapshot["apiKey"])
	require.Equal(t, "visible", entry.Snapshot["comment"])
}

func TestRecordOffloadsLargeEvidence(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	large := []byte(strings.Repeat("x", 11*1024))
	entry, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionExecuted,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "envelope",
		EntityID:   "env_2",
		Summary:    "action executed",
		Snapshot:   map[string]interface{}{},
		Evidence:   map[string][]byte{"executionLog": large},
	})
	require.NoError(t, err)
	require.Len(t, entry.EvidencePointers, 1)
	require.NotEmpty(t, entry.EvidencePointers[0].StorageRef)

	fetched, err := l.FetchEvidence(ctx, entry.EvidencePointers[0].StorageRef)
	require.NoError(t, err)
	require.Equal(t, large, fetched)
}

func TestRecordInlinesSmallEvidence(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	small := []byte("small payload")
	entry, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionExecuted,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "envelope",
		EntityID:   "env_3",
		Summary:    "action executed",
		Snapshot:   map[string]interface{}{},
		Evidence:   map[string][]byte{"receipt": small},
	})
	require.NoError(t, err)
	require.Len(t, entry.EvidencePointers, 1)
	require.Empty(t, entry.EvidencePointers[0].StorageRef)

	bucket, ok := entry.Snapshot["evidence"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, bucket, "receipt")
}

func TestVerifyChainUnaffectedByMutatingTailCopy(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	_, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionProposed,
		ActorType:  "principal",
		ActorID:    "user_1",
		EntityType: "envelope",
		EntityID:   "env_1",
		Summary:    "action proposed",
		Snapshot:   map[string]interface{}{},
	})
	require.NoError(t, err)

	tail, err := l.Tail(ctx)
	require.NoError(t, err)
	tail.Summary = "tampered"

	result, err := ledger.VerifyChain(ctx, l)
	require.NoError(t, err)
	require.True(t, result.Valid, "mutating a copy returned by Tail must not affect the stored chain")
}

func TestDeepVerifyPassesWhenEvidenceUntouched(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	large := []byte(strings.Repeat("x", 11*1024))
	_, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionExecuted,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "envelope",
		EntityID:   "env_1",
		Summary:    "action executed",
		Snapshot:   map[string]interface{}{},
		Evidence:   map[string][]byte{"executionLog": large},
	})
	require.NoError(t, err)

	result, err := ledger.DeepVerify(ctx, l)
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestDeepVerifyDetectsSubstitutedEvidence(t *testing.T) {
	evidence := memstore.NewEvidenceStore()
	l := newLedgerWithEvidenceStore(evidence)
	ctx := context.Background()

	large := []byte(strings.Repeat("x", 11*1024))
	entry, err := l.Record(ctx, ledger.RecordInput{
		EventType:  schema.EventActionExecuted,
		ActorType:  "system",
		ActorID:    "governor",
		EntityType: "envelope",
		EntityID:   "env_1",
		Summary:    "action executed",
		Snapshot:   map[string]interface{}{},
		Evidence:   map[string][]byte{"executionLog": large},
	})
	require.NoError(t, err)
	require.Len(t, entry.EvidencePointers, 1)

	// The hash chain itself is untouched; only the out-of-line content is
	// swapped, which VerifyChain cannot catch but DeepVerify must.
	require.NoError(t, evidence.Put(ctx, entry.EvidencePointers[0].StorageRef, []byte(strings.Repeat("y", 11*1024))))

	shallow, err := ledger.VerifyChain(ctx, l)
	require.NoError(t, err)
	require.True(t, shallow.Valid, "substituting evidence content must not break the shallow chain check")

	deep, err := ledger.DeepVerify(ctx, l)
	require.NoError(t, err)
	require.False(t, deep.Valid)
	require.Equal(t, entry.ID, deep.BrokenAt)
}
