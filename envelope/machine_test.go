package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governor/envelope"
	governorerrors "governor/errors"
	"governor/schema"
)

func TestTransitionHappyPath(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusInterpreting}
	require.NoError(t, envelope.Transition(env, schema.StatusResolving))
	require.NoError(t, envelope.Transition(env, schema.StatusProposed))
	require.NoError(t, envelope.Transition(env, schema.StatusQueued))
	require.NoError(t, envelope.Transition(env, schema.StatusExecuting))
	require.NoError(t, envelope.Transition(env, schema.StatusExecuted))
	require.EqualValues(t, 5, env.Version)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusInterpreting}
	err := envelope.Transition(env, schema.StatusExecuted)
	require.ErrorIs(t, err, governorerrors.ErrInvalidTransition)
	require.Equal(t, schema.StatusInterpreting, env.Status)
}

func TestTransitionRejectsFromTerminal(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusExecuted}
	err := envelope.Transition(env, schema.StatusQueued)
	require.ErrorIs(t, err, governorerrors.ErrEnvelopeTerminal)
}

func TestTransitionToExpiredAllowedFromAnyNonTerminal(t *testing.T) {
	for _, status := range []schema.EnvelopeStatus{
		schema.StatusInterpreting, schema.StatusProposed, schema.StatusPendingApproval, schema.StatusQueued,
	} {
		env := &schema.Envelope{Status: status}
		require.NoError(t, envelope.Transition(env, schema.StatusExpired))
	}
}

func TestTransitionToExpiredRejectedFromTerminal(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusDenied}
	err := envelope.Transition(env, schema.StatusExpired)
	require.ErrorIs(t, err, governorerrors.ErrEnvelopeTerminal)
}

func TestProposedFastPathToQueued(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusProposed}
	require.NoError(t, envelope.Transition(env, schema.StatusQueued))
}

func TestProposedDeniedByPolicy(t *testing.T) {
	env := &schema.Envelope{Status: schema.StatusProposed}
	require.NoError(t, envelope.Transition(env, schema.StatusDenied))
}
