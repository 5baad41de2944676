package chatclient

import (
	"sync"

	"estate-assist-go/internal/model"
)

// Transcript is the append-only local mirror of a conversation.
// A message id is kept at most once; the first copy wins.
type Transcript struct {
	mu   sync.Mutex
	msgs []model.ChatMessage
	seen map[string]struct{}
}

func NewTranscript() *Transcript {
	return &Transcript{seen: make(map[string]struct{})}
}

// Merge appends the messages whose ids are not present yet, keeping the order
// they have in msgs, and returns exactly those.
func (t *Transcript) Merge(msgs []model.ChatMessage) []model.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []model.ChatMessage
	for _, m := range msgs {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.msgs = append(t.msgs, m)
		added = append(added, m)
	}
	return added
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []model.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Reset empties the transcript, used when switching conversations.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
	t.seen = make(map[string]struct{})
}
