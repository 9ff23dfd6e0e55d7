package qudicore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := newStateMachine("cam")
	require.True(t, sm.Deactivated())

	require.NoError(t, sm.beginActivate())
	assert.Equal(t, StateActivating, sm.Current())

	require.NoError(t, sm.endActivate(true))
	assert.True(t, sm.Idle())

	require.NoError(t, sm.Lock())
	assert.True(t, sm.Locked())

	require.NoError(t, sm.Unlock())
	assert.True(t, sm.Idle())

	require.NoError(t, sm.beginDeactivate())
	require.NoError(t, sm.endDeactivate())
	assert.True(t, sm.Deactivated())
}

func TestStateMachineActivationFailureReturnsToDeactivated(t *testing.T) {
	sm := newStateMachine("cam")
	require.NoError(t, sm.beginActivate())
	require.NoError(t, sm.endActivate(false))
	assert.True(t, sm.Deactivated())
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	sm := newStateMachine("cam")
	err := sm.Lock()
	assert.ErrorIs(t, err, ErrStateTransition)

	err = sm.set(StateLocked)
	assert.ErrorIs(t, err, ErrStateTransition)
}

func TestStateMachineOnChangeFires(t *testing.T) {
	sm := newStateMachine("cam")
	var transitions [][2]State
	sm.OnChange(func(from, to State) { transitions = append(transitions, [2]State{from, to}) })

	require.NoError(t, sm.beginActivate())
	require.NoError(t, sm.endActivate(true))

	require.Len(t, transitions, 2)
	assert.Equal(t, StateDeactivated, transitions[0][0])
	assert.Equal(t, StateActivating, transitions[0][1])
	assert.Equal(t, StateActivating, transitions[1][0])
	assert.Equal(t, StateIdle, transitions[1][1])
}
