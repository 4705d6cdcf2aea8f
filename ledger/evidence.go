package ledger

import (
	"context"
	"path/filepath"
	"strings"

	governorerrors "governor/errors"
)

// inlineThresholdBytes is the evidence size above which content is stored
// out-of-line in the evidence store and referenced by a pointer rather than
// inlined into the audit entry's snapshot, per spec.md §4.1.
const inlineThresholdBytes = 10 * 1024

// evidenceRef builds the evidence store key for an entry's Nth evidence
// attachment. Entries never choose their own ref; the ledger owns the
// namespace so path safety can be checked in one place.
func evidenceRef(entryID string, index int) string {
	return filepath.ToSlash(filepath.Join("entries", entryID, itoa(index)))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

// validateEvidenceRef rejects any ref that would escape the evidence store's
// root once cleaned, defending the Get/Put boundary against a caller-
// supplied path-traversal ref even though this package only ever generates
// its own refs internally.
func validateEvidenceRef(ref string) error {
	cleaned := filepath.ToSlash(filepath.Clean(ref))
	if strings.HasPrefix(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return governorerrors.ErrEvidencePathTraversal
	}
	return nil
}

// storeEvidence puts content under ref if it passes path validation.
func (l *Ledger) storeEvidence(ctx context.Context, ref string, content []byte) error {
	if err := validateEvidenceRef(ref); err != nil {
		return err
	}
	return l.evidence.Put(ctx, ref, content)
}

// FetchEvidence retrieves previously stored out-of-line evidence content by
// its storage ref, validating the ref the same way storeEvidence does.
func (l *Ledger) FetchEvidence(ctx context.Context, ref string) ([]byte, error) {
	if err := validateEvidenceRef(ref); err != nil {
		return nil, err
	}
	return l.evidence.Get(ctx, ref)
}
