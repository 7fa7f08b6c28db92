package sharing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle_StartThenEnd(t *testing.T) {
	req := require.New(t)
	l := NewLifecycle()

	// Given a fresh session
	req.Equal(StateNone, l.State())

	// When it is started and ended
	req.NoError(l.Transition(EventStart))
	req.True(l.IsActive())
	req.NoError(l.Transition(EventEnd))

	// Then it is terminal
	req.Equal(StateEnded, l.State())
	req.ErrorIs(l.Transition(EventStart), ErrSessionEnded)
	req.ErrorIs(l.Transition(EventExpire), ErrSessionEnded)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	req := require.New(t)

	// A session that never started cannot end
	req.ErrorIs(NewLifecycle().Transition(EventEnd), ErrInvalidTransition)

	// An active session cannot start twice
	l := ActiveLifecycle()
	req.ErrorIs(l.Transition(EventStart), ErrInvalidTransition)

	// Expiry ends an active session
	req.NoError(l.Transition(EventExpire))
	req.Equal(StateEnded, l.State())
}
