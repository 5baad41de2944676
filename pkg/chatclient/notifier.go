package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const subscriberBufferSize = 32

// Level is the severity of a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a transient user-facing message. Subscribers receive it once when
// published and once more with Dismissed set when it goes away.
type Notice struct {
	ID        string
	Level     Level
	Text      string
	At        time.Time
	Dismissed bool
}

// Notifier is an instance-scoped notice board with fan-out to subscribers.
// Notices expire after the configured TTL unless dismissed earlier.
type Notifier struct {
	ttl time.Duration

	mu     sync.RWMutex
	subs   map[string]chan Notice
	active map[string]activeNotice
	closed bool
}

type activeNotice struct {
	notice Notice
	timer  *time.Timer
}

// NewNotifier creates a notifier; ttl <= 0 keeps notices until dismissed.
func NewNotifier(ttl time.Duration) *Notifier {
	return &Notifier{
		ttl:    ttl,
		subs:   make(map[string]chan Notice),
		active: make(map[string]activeNotice),
	}
}

// Subscribe returns a subscription id and a channel of notices. Slow
// subscribers miss notices rather than block publishers.
func (n *Notifier) Subscribe() (string, <-chan Notice) {
	id := uuid.NewString()
	ch := make(chan Notice, subscriberBufferSize)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return id, ch
	}
	n.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.subs[id]; ok {
		delete(n.subs, id)
		close(ch)
	}
}

// Publish adds a notice and fans it out.
func (n *Notifier) Publish(level Level, text string) Notice {
	notice := Notice{ID: uuid.NewString(), Level: level, Text: text, At: time.Now()}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return notice
	}
	entry := activeNotice{notice: notice}
	if n.ttl > 0 {
		id := notice.ID
		entry.timer = time.AfterFunc(n.ttl, func() { n.Dismiss(id) })
	}
	n.active[notice.ID] = entry
	n.mu.Unlock()

	n.broadcast(notice)
	return notice
}

// Dismiss removes an active notice; it reports false if it was already gone.
func (n *Notifier) Dismiss(id string) bool {
	n.mu.Lock()
	entry, ok := n.active[id]
	if ok {
		delete(n.active, id)
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	n.mu.Unlock()
	if !ok {
		return false
	}

	dismissed := entry.notice
	dismissed.Dismissed = true
	n.broadcast(dismissed)
	return true
}

// Active returns the notices currently shown, oldest first.
func (n *Notifier) Active() []Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notice, 0, len(n.active))
	for _, e := range n.active {
		out = append(out, e.notice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Close stops pending expirations and closes every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, e := range n.active {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(n.active, id)
	}
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}

// broadcast holds the read lock while sending so that Unsubscribe cannot
// close a channel mid-send; sends never block.
func (n *Notifier) broadcast(notice Notice) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}
