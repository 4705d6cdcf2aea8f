// Package envelope enforces the allowed lifecycle transitions between
// EnvelopeStatus values, per spec.md §4.6. It holds no storage state of its
// own; the orchestrator is responsible for persisting the mutated envelope
// under optimistic concurrency after a transition is accepted.
package envelope

import (
	"fmt"

	governorerrors "governor/errors"
	"governor/schema"
)

// transitions is the fixed adjacency list of allowed EnvelopeStatus moves.
// Every non-terminal status may additionally move to StatusExpired via the
// sweeper, handled by CanTransition's StatusExpired case rather than folded in here so
// the table reads as the happy-path graph from spec.md §4.6.
var transitions = map[schema.EnvelopeStatus][]schema.EnvelopeStatus{
	schema.StatusInterpreting:    {schema.StatusResolving},
	schema.StatusResolving:       {schema.StatusProposed},
	schema.StatusProposed:        {schema.StatusEvaluating, schema.StatusQueued, schema.StatusDenied},
	schema.StatusEvaluating:      {schema.StatusPendingApproval, schema.StatusApproved, schema.StatusDenied, schema.StatusQueued},
	schema.StatusPendingApproval: {schema.StatusApproved, schema.StatusDenied},
	schema.StatusApproved:        {schema.StatusQueued},
	schema.StatusQueued:          {schema.StatusExecuting},
	schema.StatusExecuting:       {schema.StatusExecuted, schema.StatusFailed},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the lifecycle graph, including the universal any-non-terminal→expired
// escape hatch the TTL sweeper uses.
func CanTransition(from, to schema.EnvelopeStatus) bool {
	if to == schema.StatusExpired {
		return !from.Terminal()
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition moves env.Status to 'to', bumping Version, or returns
// governorerrors.ErrInvalidTransition without mutating env. The caller is
// responsible for setting UpdatedAt and persisting env under the bumped
// version via storage.EnvelopeStore.Update's CAS.
func Transition(env *schema.Envelope, to schema.EnvelopeStatus) error {
	if env.Status.Terminal() {
		return governorerrors.ErrEnvelopeTerminal
	}
	if !CanTransition(env.Status, to) {
		return fmt.Errorf("%w: %s -> %s", governorerrors.ErrInvalidTransition, env.Status, to)
	}
	env.Status = to
	env.Version++
	return nil
}
