// Package approval implements the human-in-the-loop approval subsystem:
// binding-hash computation, quorum accumulation, response handling under
// optimistic concurrency, and the periodic expiry sweep, per spec.md §3
// and §4.3.
package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"governor/canon"
	"governor/schema"
)

// bindableView is the fixed subset of an envelope/proposal pair that the
// binding hash covers: exactly what the approver saw. Any drift between
// this and the envelope at response time (a re-resolved entity, a changed
// parameter, a re-evaluated decision trace, a refreshed context snapshot,
// or a bumped envelope version) invalidates the hash, per spec.md §4.3's
// anti-TOCTOU rule. The field set and order is the canonical tuple
// spec.md §4.3 defines: {envelopeId, envelopeVersion, actionId,
// parameters, decisionTraceHash, contextSnapshotHash}.
type bindableView struct {
	EnvelopeID          string                 `json:"envelopeId"`
	EnvelopeVersion     uint64                 `json:"envelopeVersion"`
	ActionID            string                 `json:"actionId"`
	Parameters          map[string]interface{} `json:"parameters"`
	DecisionTraceHash   string                 `json:"decisionTraceHash"`
	ContextSnapshotHash string                 `json:"contextSnapshotHash"`
}

// ComputeBindingHash hashes the canonical JSON of the proposal exactly as
// the approver will see it, so any later mutation of the envelope version,
// parameters, decision trace, or context snapshot is detectable at
// response time. Per spec.md §4.3, decisionTraceHash and
// contextSnapshotHash are themselves the SHA-256 of the canonical JSON of
// the corresponding object, hashed separately before folding into the
// outer bindableView so a deep change in either still changes the outer
// hash.
func ComputeBindingHash(
	envelopeID string,
	envelopeVersion uint64,
	actionID string,
	parameters map[string]interface{},
	trace schema.DecisionTrace,
	contextSnapshot map[string]interface{},
) (string, error) {
	traceHash, err := canon.HashHex(trace)
	if err != nil {
		return "", err
	}
	contextHash, err := canon.HashHex(contextSnapshot)
	if err != nil {
		return "", err
	}
	return canon.HashHex(bindableView{
		EnvelopeID:          envelopeID,
		EnvelopeVersion:     envelopeVersion,
		ActionID:            actionID,
		Parameters:          parameters,
		DecisionTraceHash:   traceHash,
		ContextSnapshotHash: contextHash,
	})
}

// VerifyBindingHash reports whether provided matches the approval request's
// stored binding hash, using a constant-time comparison so a caller cannot
// learn anything about the stored hash from response timing — the same
// discipline the teacher applies to HMAC signature checks.
func VerifyBindingHash(stored, provided string) bool {
	storedBytes, err1 := hex.DecodeString(stored)
	providedBytes, err2 := hex.DecodeString(provided)
	if err1 != nil || err2 != nil {
		return false
	}
	return hmac.Equal(storedBytes, providedBytes)
}

// quorumHash derives a per-approver vote hash binding the approver's
// identity to the same bindable view, so one approver's vote cannot be
// replayed as another's.
func quorumHash(bindingHash, approverID string) string {
	mac := hmac.New(sha256.New, []byte(bindingHash))
	mac.Write([]byte(approverID))
	return hex.EncodeToString(mac.Sum(nil))
}
