package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"estate-assist-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(id string) model.ChatMessage {
	return model.ChatMessage{ID: id, Role: model.RoleUser, Content: id}
}

func assistant(id string) model.ChatMessage {
	return model.ChatMessage{ID: id, Role: model.RoleAssistant, Content: id}
}

func ids(msgs []model.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// fakeSource serves per-conversation message lists that tests can mutate.
type fakeSource struct {
	mu       sync.Mutex
	convs    map[string][]model.ChatMessage
	err      error
	calls    int32
	inFlight int32
	maxSeen  int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{convs: make(map[string][]model.ChatMessage)}
}

func (f *fakeSource) set(id string, msgs ...model.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[id] = msgs
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) Fetch(ctx context.Context, id string) ([]model.ChatMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msgs, ok := f.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func TestTranscript_MergeAddsOnlyUnseen(t *testing.T) {
	tr := NewTranscript()
	added := tr.Merge([]model.ChatMessage{user("m1"), assistant("m2")})
	assert.Equal(t, []string{"m1", "m2"}, ids(added))

	added = tr.Merge([]model.ChatMessage{user("m1"), assistant("m2"), user("m3")})
	assert.Equal(t, []string{"m3"}, ids(added))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(tr.Messages()))

	assert.Empty(t, tr.Merge(nil))
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestTranscript_MergeIsIdempotent(t *testing.T) {
	tr := NewTranscript()
	batch := []model.ChatMessage{user("a"), assistant("b"), user("a")}
	tr.Merge(batch)
	tr.Merge(batch)
	assert.Equal(t, []string{"a", "b"}, ids(tr.Messages()))
}

func TestTurn_HappyPath(t *testing.T) {
	turn := NewTurn("c1", "m1")
	assert.Equal(t, TurnSubmitted, turn.State())
	require.NoError(t, turn.MarkDispatched())
	require.NoError(t, turn.MarkAcknowledged(true))
	assert.Equal(t, TurnPending, turn.State())
	require.NoError(t, turn.Resolve(assistant("m2")))
	assert.Equal(t, TurnResolved, turn.State())

	reply, ok := turn.Reply()
	require.True(t, ok)
	assert.Equal(t, "m2", reply.ID)

	select {
	case <-turn.Done():
	default:
		t.Fatal("done channel must be closed on a terminal state")
	}
}

func TestTurn_TerminalStatesAreFinal(t *testing.T) {
	failed := NewTurn("c1", "m1")
	require.NoError(t, failed.MarkDispatched())
	require.NoError(t, failed.MarkAcknowledged(false))
	assert.Equal(t, TurnFailed, failed.State())
	assert.ErrorIs(t, failed.Resolve(assistant("x")), ErrInvalidTransition)
	assert.ErrorIs(t, failed.Abandon(), ErrInvalidTransition)

	abandoned := NewTurn("c1", "m1")
	require.NoError(t, abandoned.Abandon())
	assert.ErrorIs(t, abandoned.MarkDispatched(), ErrInvalidTransition)
	assert.True(t, abandoned.State().Terminal())
}

func TestTurn_OutOfOrder(t *testing.T) {
	turn := NewTurn("c1", "m1")
	assert.ErrorIs(t, turn.Resolve(assistant("x")), ErrInvalidTransition)
	assert.ErrorIs(t, turn.MarkAcknowledged(true), ErrInvalidTransition)
	assert.Equal(t, TurnSubmitted, turn.State())
}

func TestNotifier_PublishAndExpire(t *testing.T) {
	n := NewNotifier(30 * time.Millisecond)
	defer n.Close()
	_, ch := n.Subscribe()

	published := n.Publish(LevelError, "boom")
	got := <-ch
	assert.Equal(t, published.ID, got.ID)
	assert.False(t, got.Dismissed)
	assert.Len(t, n.Active(), 1)

	select {
	case gone := <-ch:
		assert.Equal(t, published.ID, gone.ID)
		assert.True(t, gone.Dismissed)
	case <-time.After(2 * time.Second):
		t.Fatal("notice did not expire")
	}
	assert.Empty(t, n.Active())
}

func TestNotifier_DismissAndUnsubscribe(t *testing.T) {
	n := NewNotifier(0)
	id, ch := n.Subscribe()

	notice := n.Publish(LevelInfo, "hello")
	<-ch
	assert.True(t, n.Dismiss(notice.ID))
	assert.False(t, n.Dismiss(notice.ID))
	assert.True(t, (<-ch).Dismissed)

	n.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	n.Close()
	n.Publish(LevelInfo, "after close")
	assert.Empty(t, n.Active())
}

func TestNotifier_InstancesAreIndependent(t *testing.T) {
	a, b := NewNotifier(0), NewNotifier(0)
	defer a.Close()
	defer b.Close()
	a.Publish(LevelInfo, "only a")
	assert.Len(t, a.Active(), 1)
	assert.Empty(t, b.Active())
}

func TestSynchronizer_MergesOnTick(t *testing.T) {
	src := newFakeSource()
	src.set("c1", user("m1"))

	var mu sync.Mutex
	var merged []string
	s := NewSynchronizer(src, WithInterval(10*time.Millisecond), WithOnMerge(func(msgs []model.ChatMessage) {
		mu.Lock()
		merged = append(merged, ids(msgs)...)
		mu.Unlock()
	}))
	s.SetConversation("c1")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Transcript().Len() == 1 }, time.Second, 5*time.Millisecond)
	src.set("c1", user("m1"), assistant("m2"))
	require.Eventually(t, func() bool { return s.Transcript().Len() == 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1", "m2"}, merged)
	assert.LessOrEqual(t, atomic.LoadInt32(&src.maxSeen), int32(1), "only one fetch may be in flight")
}

func TestSynchronizer_NotFoundIsEmpty(t *testing.T) {
	src := newFakeSource()
	n := NewNotifier(0)
	defer n.Close()
	s := NewSynchronizer(src, WithInterval(10*time.Millisecond), WithNotifier(n))
	s.SetConversation("not-yet")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Transcript().Len())
	assert.Empty(t, n.Active(), "a missing conversation is not an error")
}

func TestSynchronizer_FetchErrorsNotifyOnce(t *testing.T) {
	src := newFakeSource()
	src.setErr(errors.New("connection refused"))
	n := NewNotifier(0)
	defer n.Close()

	s := NewSynchronizer(src, WithInterval(5*time.Millisecond), WithNotifier(n))
	s.SetConversation("c1")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) >= 4 }, time.Second, 5*time.Millisecond)
	assert.Len(t, n.Active(), 1)
}

func TestSynchronizer_EmptyConversationPauses(t *testing.T) {
	src := newFakeSource()
	s := NewSynchronizer(src, WithInterval(5*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))
}

func TestSynchronizer_SwitchConversationResets(t *testing.T) {
	src := newFakeSource()
	src.set("a", user("a1"), assistant("a2"))
	src.set("b", user("b1"))

	s := NewSynchronizer(src, WithInterval(5*time.Millisecond))
	s.SetConversation("a")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Transcript().Len() == 2 }, time.Second, 5*time.Millisecond)

	s.SetConversation("b")
	require.Eventually(t, func() bool {
		msgs := s.Transcript().Messages()
		return len(msgs) == 1 && msgs[0].ID == "b1"
	}, time.Second, 5*time.Millisecond)
}

func TestSynchronizer_ResolvesPendingTurn(t *testing.T) {
	src := newFakeSource()
	src.set("c1", assistant("old"), user("m1"))

	s := NewSynchronizer(src, WithInterval(5*time.Millisecond))
	s.SetConversation("c1")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	turn := NewTurn("c1", "m1")
	require.NoError(t, turn.MarkDispatched())
	require.NoError(t, turn.MarkAcknowledged(true))
	s.Track(turn)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, TurnPending, turn.State(), "an earlier reply must not resolve this turn")

	src.set("c1", assistant("old"), user("m1"), assistant("m2"))
	select {
	case <-turn.Done():
	case <-time.After(time.Second):
		t.Fatal("turn was not resolved")
	}
	reply, _ := turn.Reply()
	assert.Equal(t, "m2", reply.ID)
}

func TestSynchronizer_StopAbandonsPendingTurn(t *testing.T) {
	src := newFakeSource()
	s := NewSynchronizer(src, WithInterval(5*time.Millisecond))
	s.SetConversation("c1")
	require.NoError(t, s.Start(context.Background()))

	turn := NewTurn("c1", "m1")
	require.NoError(t, turn.MarkDispatched())
	require.NoError(t, turn.MarkAcknowledged(true))
	s.Track(turn)

	s.Stop()
	s.Stop()
	assert.Equal(t, TurnAbandoned, turn.State())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSynchronizer_ContextCancelStops(t *testing.T) {
	src := newFakeSource()
	s := NewSynchronizer(src, WithInterval(5*time.Millisecond))
	s.SetConversation("c1")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	stopped := make(chan struct{})
	go func() { s.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	calls := atomic.LoadInt32(&src.calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&src.calls))
}

func TestHTTPClient_FetchAndSubmit(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]model.ChatMessage{user("m1")})
	})
	mux.HandleFunc("/api/v1/conversations/missing/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	})
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		var in SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Content == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"content: must not be empty"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(SubmitResponse{ConversationID: "c1", MessageID: "m1", Text: "ok", Pending: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", WithToken("tok"))
	msgs, err := c.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(msgs))
	assert.Equal(t, "Bearer tok", gotAuth)

	_, err = c.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := c.Submit(context.Background(), SubmitRequest{Content: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ConversationID)
	assert.True(t, res.Pending)

	_, err = c.Submit(context.Background(), SubmitRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}
