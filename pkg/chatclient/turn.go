package chatclient

import (
	"errors"
	"fmt"
	"sync"

	"estate-assist-go/internal/model"
)

// TurnState is the lifecycle of one user message awaiting its reply.
type TurnState int

const (
	TurnSubmitted TurnState = iota
	TurnRelayDispatched
	TurnPending
	TurnResolved
	TurnFailed
	TurnAbandoned
)

func (s TurnState) String() string {
	switch s {
	case TurnSubmitted:
		return "submitted"
	case TurnRelayDispatched:
		return "relay_dispatched"
	case TurnPending:
		return "pending"
	case TurnResolved:
		return "resolved"
	case TurnFailed:
		return "failed"
	case TurnAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == TurnResolved || s == TurnFailed || s == TurnAbandoned
}

// ErrInvalidTransition is returned when a turn is moved out of order.
var ErrInvalidTransition = errors.New("invalid turn transition")

// Turn tracks a submitted message until the assistant reply shows up,
// the relay fails, or the caller gives up.
type Turn struct {
	ConversationID string
	MessageID      string

	mu    sync.Mutex
	state TurnState
	reply *model.ChatMessage
	done  chan struct{}
}

func NewTurn(conversationID, messageID string) *Turn {
	return &Turn{
		ConversationID: conversationID,
		MessageID:      messageID,
		state:          TurnSubmitted,
		done:           make(chan struct{}),
	}
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reply returns the assistant message that resolved the turn, if any.
func (t *Turn) Reply() (model.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reply == nil {
		return model.ChatMessage{}, false
	}
	return *t.reply, true
}

// Done is closed once the turn reaches a terminal state.
func (t *Turn) Done() <-chan struct{} { return t.done }

// MarkDispatched records that the server handed the message to the relay.
func (t *Turn) MarkDispatched() error {
	return t.transition(TurnRelayDispatched, nil, TurnSubmitted)
}

// MarkAcknowledged applies the server acknowledgement: a pending ack waits
// for the reply, a degraded ack fails the turn.
func (t *Turn) MarkAcknowledged(pending bool) error {
	if pending {
		return t.transition(TurnPending, nil, TurnRelayDispatched)
	}
	return t.transition(TurnFailed, nil, TurnRelayDispatched)
}

// Resolve records the assistant reply that arrived via polling.
func (t *Turn) Resolve(reply model.ChatMessage) error {
	return t.transition(TurnResolved, &reply, TurnPending)
}

// Abandon gives up on a turn that has not finished.
func (t *Turn) Abandon() error {
	return t.transition(TurnAbandoned, nil, TurnSubmitted, TurnRelayDispatched, TurnPending)
}

func (t *Turn) transition(to TurnState, reply *model.ChatMessage, from ...TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := false
	for _, s := range from {
		if t.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
	}
	t.state = to
	if reply != nil {
		t.reply = reply
	}
	if to.Terminal() {
		close(t.done)
	}
	return nil
}
