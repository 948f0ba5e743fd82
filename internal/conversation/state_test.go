package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_HappyPath(t *testing.T) {
	sm := NewStateMachine(nil)
	assert.Equal(t, StateIdle, sm.Snapshot("c1"))

	token, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingResponse, sm.Snapshot("c1"))

	require.NoError(t, sm.CompleteDelivery("c1", token))
	assert.Equal(t, StateResolved, sm.Snapshot("c1"))
	token.Release()
}

func TestStateMachine_ResolvedReopensOnNewMessage(t *testing.T) {
	sm := NewStateMachine(nil)
	token, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, sm.CompleteDelivery("c1", token))
	token.Release()

	token2, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	defer token2.Release()
	assert.Equal(t, StateAwaitingResponse, sm.Snapshot("c1"))
}

func TestStateMachine_EscalatedRejectsAutomatedTurns(t *testing.T) {
	sm := NewStateMachine(nil)
	sm.Escalate("c1")

	_, err := sm.BeginTurn(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrConversationEscalated)
}

func TestStateMachine_EscalationCancelsInFlightTurn(t *testing.T) {
	sm := NewStateMachine(nil)
	token, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	defer token.Release()

	assert.NoError(t, token.Ctx.Err())
	sm.Escalate("c1")

	select {
	case <-token.Ctx.Done():
	default:
		t.Fatal("turn context should be cancelled by escalation")
	}
}

func TestStateMachine_StaleCompletionDiscarded(t *testing.T) {
	sm := NewStateMachine(nil)
	token, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	defer token.Release()

	sm.Escalate("c1")

	err = sm.CompleteDelivery("c1", token)
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, StateEscalated, sm.Snapshot("c1"), "stale completion must not change state")
}

func TestStateMachine_EscalateIsIdempotent(t *testing.T) {
	sm := NewStateMachine(nil)
	assert.Equal(t, StateEscalated, sm.Escalate("c1"))
	assert.Equal(t, StateEscalated, sm.Escalate("c1"))
}

func TestStateMachine_ResolveByHuman(t *testing.T) {
	sm := NewStateMachine(nil)

	// Only valid from Escalated.
	assert.ErrorIs(t, sm.ResolveByHuman("c1"), ErrStaleTransition)

	sm.Escalate("c1")
	require.NoError(t, sm.ResolveByHuman("c1"))
	assert.Equal(t, StateResolved, sm.Snapshot("c1"))

	// A new guest message reopens automated handling.
	token, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	defer token.Release()
	assert.Equal(t, StateAwaitingResponse, sm.Snapshot("c1"))
}

func TestStateMachine_EpochIsolatesOldTokens(t *testing.T) {
	sm := NewStateMachine(nil)
	oldToken, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	oldToken.Release()

	sm.Escalate("c1")
	require.NoError(t, sm.ResolveByHuman("c1"))

	newToken, err := sm.BeginTurn(context.Background(), "c1")
	require.NoError(t, err)
	defer newToken.Release()

	// The pre-escalation token belongs to a dead epoch.
	assert.ErrorIs(t, sm.CompleteDelivery("c1", oldToken), ErrStaleTransition)
	// The fresh token commits normally.
	assert.NoError(t, sm.CompleteDelivery("c1", newToken))
}
