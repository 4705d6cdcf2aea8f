package canon

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier with the given prefix, e.g.
// "env_3f9a...", "approval_...", "audit_...". The prefix makes ids self-describing
// in logs and audit entries without requiring a lookup.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// ActionID derives the stable identifier for one proposal within an
// envelope, used as the actionId term in the binding-hash tuple
// (spec.md §4.3). It is a pure function of the envelope id and the
// proposal's index in Envelope.Proposals, so it is reproducible across
// re-evaluation without needing its own persisted field.
func ActionID(envelopeID string, proposalIndex int) string {
	return fmt.Sprintf("%s#%d", envelopeID, proposalIndex)
}
