package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/stayware/cohost-platform/pkg/logging"
)

// State is the authoritative per-conversation lifecycle state.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	StateEscalated        State = "escalated"
	StateResolved         State = "resolved"
)

var (
	// ErrStaleTransition indicates a transition arrived for a conversation
	// that a later event already superseded. Callers discard the work.
	ErrStaleTransition = errors.New("conversation: stale transition discarded")

	// ErrConversationEscalated indicates the conversation is owned by a human
	// and automated processing must not proceed.
	ErrConversationEscalated = errors.New("conversation: escalated, human owns this conversation")
)

// TurnToken represents ownership of one inbound message's processing slot.
// Epoch changes whenever the conversation escalates, invalidating in-flight
// automated work; Ctx is cancelled at the same moment.
type TurnToken struct {
	Epoch uint64
	Ctx   context.Context

	cancel context.CancelFunc
}

// Release frees the turn's cancellation slot. Callers defer this once the
// turn's side effects have committed or been abandoned.
func (t *TurnToken) Release() {
	if t != nil && t.cancel != nil {
		t.cancel()
	}
}

type convState struct {
	mu       sync.Mutex
	state    State
	epoch    uint64
	cancels  map[uint64]context.CancelFunc
	nextSlot uint64
}

// StateMachine owns conversation states and serializes transitions. All side
// effects (cache writes, dispatch) must happen under a TurnToken obtained from
// BeginTurn, and delivery completion must be committed via CompleteDelivery so
// that escalations racing with automated replies always win.
type StateMachine struct {
	mu            sync.Mutex
	conversations map[string]*convState
	logger        *logging.Logger
}

// NewStateMachine creates an empty state registry.
func NewStateMachine(logger *logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.Default()
	}
	return &StateMachine{
		conversations: make(map[string]*convState),
		logger:        logger,
	}
}

func (m *StateMachine) get(conversationID string) *convState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.conversations[conversationID]
	if !ok {
		cs = &convState{state: StateIdle, cancels: make(map[uint64]context.CancelFunc)}
		m.conversations[conversationID] = cs
	}
	return cs
}

// Snapshot returns the current state without acquiring ownership.
func (m *StateMachine) Snapshot(conversationID string) State {
	cs := m.get(conversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// BeginTurn records the arrival of an inbound message. Resolved conversations
// reopen, Idle conversations move to AwaitingResponse. If the conversation is
// escalated the message is left to the human and ErrConversationEscalated is
// returned. The returned token's context is cancelled if the conversation
// escalates while the turn is in flight.
func (m *StateMachine) BeginTurn(ctx context.Context, conversationID string) (*TurnToken, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cs := m.get(conversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateEscalated:
		return nil, ErrConversationEscalated
	case StateResolved:
		// A new inbound message reopens the conversation.
		cs.state = StateAwaitingResponse
	case StateIdle:
		cs.state = StateAwaitingResponse
	case StateAwaitingResponse:
		// A second message while a response is in flight joins the same epoch.
	}

	turnCtx, cancel := context.WithCancel(ctx)
	slot := cs.nextSlot
	cs.nextSlot++
	cs.cancels[slot] = cancel

	token := &TurnToken{Epoch: cs.epoch, Ctx: turnCtx}
	token.cancel = func() {
		cancel()
		cs.mu.Lock()
		delete(cs.cancels, slot)
		cs.mu.Unlock()
	}
	return token, nil
}

// Escalate forces the conversation to Escalated, cancelling every in-flight
// automated turn. Escalation outranks any automated completion in flight, so
// this never fails; escalating an already-escalated conversation is a no-op.
func (m *StateMachine) Escalate(conversationID string) State {
	cs := m.get(conversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state == StateEscalated {
		return cs.state
	}
	cs.state = StateEscalated
	cs.epoch++
	for _, cancel := range cs.cancels {
		cancel()
	}
	return cs.state
}

// CompleteDelivery commits a successful automated reply. It fails with
// ErrStaleTransition when the conversation escalated (epoch changed) or left
// AwaitingResponse since the turn began; stale completions are discarded, not
// applied.
func (m *StateMachine) CompleteDelivery(conversationID string, token *TurnToken) error {
	cs := m.get(conversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if token == nil || cs.epoch != token.Epoch || cs.state != StateAwaitingResponse {
		m.logger.Warn("stale transition discarded",
			"conversation_id", conversationID,
			"state", string(cs.state),
		)
		return ErrStaleTransition
	}
	cs.state = StateResolved
	return nil
}

// ResolveByHuman closes an escalated conversation. Only valid from Escalated.
func (m *StateMachine) ResolveByHuman(conversationID string) error {
	cs := m.get(conversationID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != StateEscalated {
		m.logger.Warn("stale transition discarded",
			"conversation_id", conversationID,
			"state", string(cs.state),
		)
		return ErrStaleTransition
	}
	cs.state = StateResolved
	return nil
}
