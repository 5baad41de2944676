package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"estate-assist-go/internal/model"
	"estate-assist-go/pkg/log"
)

// DefaultPollInterval matches the cadence of the web client.
const DefaultPollInterval = 2 * time.Second

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Synchronizer polls one conversation at a time and merges new messages into
// its Transcript. A single goroutine does the polling, so at most one Fetch is
// outstanding.
type Synchronizer struct {
	source       Source
	transcript   *Transcript
	interval     time.Duration
	fetchTimeout time.Duration
	onMerge      func([]model.ChatMessage)
	notifier     *Notifier

	mu             sync.Mutex
	conversationID string
	turn           *Turn
	failing        bool
	cancel         context.CancelFunc
	done           chan struct{}
	wake           chan struct{}
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.interval = d }
}

// WithFetchTimeout bounds a single Fetch.
func WithFetchTimeout(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.fetchTimeout = d }
}

// WithOnMerge registers a callback receiving each batch of newly merged
// messages. It runs on the polling goroutine.
func WithOnMerge(fn func([]model.ChatMessage)) SyncOption {
	return func(s *Synchronizer) { s.onMerge = fn }
}

// WithNotifier publishes a notice when polling starts failing.
func WithNotifier(n *Notifier) SyncOption {
	return func(s *Synchronizer) { s.notifier = n }
}

// WithTranscript shares an existing transcript.
func WithTranscript(t *Transcript) SyncOption {
	return func(s *Synchronizer) { s.transcript = t }
}

func NewSynchronizer(source Source, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		source:       source,
		interval:     DefaultPollInterval,
		fetchTimeout: 10 * time.Second,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transcript == nil {
		s.transcript = NewTranscript()
	}
	return s
}

// Transcript returns the local mirror being maintained.
func (s *Synchronizer) Transcript() *Transcript { return s.transcript }

// Start launches the polling loop. It runs until Stop or ctx is cancelled.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

// SetConversation switches the polled conversation; an empty id pauses
// polling. Switching clears the transcript and abandons a pending turn.
func (s *Synchronizer) SetConversation(conversationID string) {
	s.mu.Lock()
	if s.conversationID != conversationID {
		s.conversationID = conversationID
		s.transcript.Reset()
		if s.turn != nil {
			_ = s.turn.Abandon()
			s.turn = nil
		}
	}
	s.mu.Unlock()
	s.poke()
}

// Track makes the synchronizer resolve turn once an assistant message
// following the turn's user message shows up in its conversation.
func (s *Synchronizer) Track(turn *Turn) {
	s.mu.Lock()
	if s.turn != nil && s.turn != turn {
		_ = s.turn.Abandon()
	}
	s.turn = turn
	s.mu.Unlock()
	s.poke()
}

// Stop cancels polling and waits for the loop to exit. A turn still waiting
// for its reply is abandoned. Stop is idempotent.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Synchronizer) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.abandonTurn()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		case <-s.wake:
			s.pollOnce(ctx)
		}
	}
}

func (s *Synchronizer) pollOnce(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()
	if conversationID == "" || ctx.Err() != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	msgs, err := s.source.Fetch(fetchCtx, conversationID)
	cancel()
	if errors.Is(err, ErrNotFound) {
		msgs, err = nil, nil
	}
	if err != nil {
		if ctx.Err() == nil {
			s.reportFailure(conversationID, err)
		}
		return
	}

	s.mu.Lock()
	if s.conversationID != conversationID {
		// switched while fetching; the result belongs to the old conversation
		s.mu.Unlock()
		return
	}
	s.failing = false
	added := s.transcript.Merge(msgs)
	turn := s.turn
	if turn != nil && turn.ConversationID == conversationID && turn.State() == TurnPending {
		if reply, ok := replyTo(turn.MessageID, msgs); ok && turn.Resolve(reply) == nil {
			s.turn = nil
		}
	}
	s.mu.Unlock()

	if len(added) > 0 && s.onMerge != nil {
		s.onMerge(added)
	}
}

// replyTo finds the first assistant message that follows the user message
// messageID in store order.
func replyTo(messageID string, msgs []model.ChatMessage) (model.ChatMessage, bool) {
	after := false
	for _, m := range msgs {
		if m.ID == messageID {
			after = true
			continue
		}
		if after && m.Role == model.RoleAssistant {
			return m, true
		}
	}
	return model.ChatMessage{}, false
}

func (s *Synchronizer) reportFailure(conversationID string, err error) {
	s.mu.Lock()
	first := !s.failing
	s.failing = true
	s.mu.Unlock()

	log.Warnw("poll failed", "conversationId", conversationID, "error", err)
	if first && s.notifier != nil {
		s.notifier.Publish(LevelError, "Lost connection to the conversation, retrying…")
	}
}

func (s *Synchronizer) abandonTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn != nil {
		_ = s.turn.Abandon()
		s.turn = nil
	}
}
