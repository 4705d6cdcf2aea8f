// Package litestore provides a modernc.org/sqlite-backed implementation of
// storage.LedgerStore and storage.EvidenceStore for single-process durable
// deployments that want the audit chain to survive a restart without
// standing up Postgres — the same pure-Go sqlite driver the teacher
// vendors for its own gateway's local persistence.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	governorerrors "governor/errors"
	"governor/schema"
	"governor/storage"
)

// LedgerStore persists the append-only audit chain in a local sqlite file.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore opens (creating if absent) a sqlite database at path and
// ensures its schema exists.
func NewLedgerStore(path string) (*LedgerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("litestore: open %s: %w", path, err)
	}
	store := &LedgerStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *LedgerStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER,
		occurred_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		envelope_id TEXT,
		entry_hash TEXT NOT NULL,
		previous_entry_hash TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_sequence ON audit_entries(sequence);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_envelope ON audit_entries(envelope_id);`)
	if err != nil {
		return fmt.Errorf("litestore: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying sqlite file handle.
func (s *LedgerStore) Close() error { return s.db.Close() }

func (s *LedgerStore) Append(ctx context.Context, entry *schema.AuditEntry) error {
	tail, err := s.Tail(ctx)
	if err != nil {
		return &governorerrors.LedgerAppendError{Cause: err}
	}
	expected := ""
	if tail != nil {
		expected = tail.EntryHash
	}
	if entry.PreviousEntryHash != expected {
		return &governorerrors.LedgerAppendError{Cause: governorerrors.ErrInvalidTransition}
	}

	document, err := json.Marshal(entry)
	if err != nil {
		return &governorerrors.LedgerAppendError{Cause: err}
	}
	var nextSeq int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_entries`)
	if err := row.Scan(&nextSeq); err != nil {
		return &governorerrors.LedgerAppendError{Cause: err}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_entries
		(id, sequence, occurred_at, event_type, entity_type, entity_id, envelope_id, entry_hash, previous_entry_hash, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nextSeq, entry.Timestamp, string(entry.EventType), entry.EntityType, entry.EntityID,
		entry.EnvelopeID, entry.EntryHash, entry.PreviousEntryHash, string(document))
	if err != nil {
		return &governorerrors.LedgerAppendError{Cause: err}
	}
	return nil
}

func (s *LedgerStore) Tail(ctx context.Context) (*schema.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	var document string
	if err := row.Scan(&document); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("litestore: tail: %w", err)
	}
	var entry schema.AuditEntry
	if err := json.Unmarshal([]byte(document), &entry); err != nil {
		return nil, fmt.Errorf("litestore: decode tail: %w", err)
	}
	return &entry, nil
}

func (s *LedgerStore) Query(ctx context.Context, filter storage.Filter) ([]schema.AuditEntry, error) {
	query := `SELECT document, occurred_at FROM audit_entries WHERE 1=1`
	var args []interface{}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.EnvelopeID != "" {
		query += ` AND envelope_id = ?`
		args = append(args, filter.EnvelopeID)
	}
	if !filter.After.IsZero() {
		query += ` AND occurred_at > ?`
		args = append(args, filter.After)
	}
	if !filter.Before.IsZero() {
		query += ` AND occurred_at < ?`
		args = append(args, filter.Before)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("litestore: query: %w", err)
	}
	defer rows.Close()

	out := make([]schema.AuditEntry, 0)
	for rows.Next() {
		var document string
		var occurredAt time.Time
		if err := rows.Scan(&document, &occurredAt); err != nil {
			return nil, fmt.Errorf("litestore: scan: %w", err)
		}
		var entry schema.AuditEntry
		if err := json.Unmarshal([]byte(document), &entry); err != nil {
			return nil, fmt.Errorf("litestore: decode entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *LedgerStore) All(ctx context.Context) ([]schema.AuditEntry, error) {
	entries, err := s.Query(ctx, storage.Filter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

// EvidenceStore persists out-of-line evidence content in the same sqlite
// file, keyed by its storageRef.
type EvidenceStore struct {
	db *sql.DB
}

// NewEvidenceStore opens (creating if absent) a sqlite database at path and
// ensures its schema exists. Typically pointed at the same file as
// NewLedgerStore, since both tables share one connection pool.
func NewEvidenceStore(path string) (*EvidenceStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("litestore: open %s: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS evidence (
		ref TEXT PRIMARY KEY,
		content BLOB NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("litestore: init evidence schema: %w", err)
	}
	return &EvidenceStore{db: db}, nil
}

func (s *EvidenceStore) Close() error { return s.db.Close() }

func (s *EvidenceStore) Put(ctx context.Context, ref string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO evidence (ref, content) VALUES (?, ?)
		ON CONFLICT(ref) DO UPDATE SET content = excluded.content`, ref, content)
	if err != nil {
		return fmt.Errorf("litestore: put evidence %q: %w", ref, err)
	}
	return nil
}

func (s *EvidenceStore) Get(ctx context.Context, ref string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT content FROM evidence WHERE ref = ?`, ref)
	var content []byte
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return nil, &governorerrors.NotFoundError{Kind: "evidence", ID: ref}
		}
		return nil, fmt.Errorf("litestore: get evidence %q: %w", ref, err)
	}
	return content, nil
}
