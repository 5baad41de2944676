package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/payload"
	"estate-assist-go/pkg/relay"
	"estate-assist-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "s3cret"

type fixedRelay struct {
	outcome relay.Outcome
	sent    []payload.RelayRequest
}

func (r *fixedRelay) Dispatch(_ context.Context, req payload.RelayRequest) relay.Result {
	r.sent = append(r.sent, req)
	return relay.Result{Outcome: r.outcome}
}

func (r *fixedRelay) Close() error { return nil }

type testEnv struct {
	router *gin.Engine
	repo   repository.ConversationRepository
	relay  *fixedRelay
	jwt    *token.JWTManager
}

func newEnv(t *testing.T, outcome relay.Outcome) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := repository.NewMemoryConversationRepository()
	r := &fixedRelay{outcome: outcome}
	jwtManager := token.NewJWTManager("jwt-secret", 1)
	router := NewRouter(Services{
		Chat:           service.NewChatService(repo, r, config.ChatConfig{}, time.Second),
		Callback:       service.NewCallbackService(repo, nil, callbackSecret),
		Conversation:   service.NewConversationService(repo),
		JWT:            jwtManager,
		StreamInterval: 10 * time.Millisecond,
	})
	return &testEnv{router: router, repo: repo, relay: r, jwt: jwtManager}
}

func (e *testEnv) do(method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) messages(t *testing.T, conversationID string) []model.ChatMessage {
	t.Helper()
	w := e.do(http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msgs []model.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	return msgs
}

func TestChatThenCallbackRoundTrip(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)

	w := env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"Hi","userId":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, config.DefaultAckText, ack["text"])
	assert.Equal(t, true, ack["pending"])
	assert.NotEmpty(t, ack["timestamp"])
	convID, _ := ack["conversationId"].(string)
	require.NotEmpty(t, convID)

	msgs := env.messages(t, convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	callback := `{"conversationId":"` + convID + `","messageId":"m2","responseText":"Here are some listings","suggestions":["Show me more"]}`
	w = env.do(http.MethodPost, "/api/v1/webhook/automation", "Bearer "+callbackSecret, callback)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

	msgs = env.messages(t, convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Here are some listings", msgs[1].Content)
	assert.Equal(t, []string{"Show me more"}, msgs[1].Suggestions)

	// 重复投递：仍然 accepted，不产生新消息
	w = env.do(http.MethodPost, "/api/webhook/n8n", "Bearer "+callbackSecret, callback)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.messages(t, convID), 2)
}

func TestChat_RelayDownReturnsFallback(t *testing.T) {
	env := newEnv(t, relay.OutcomeTimeout)

	w := env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"Hi","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var ack service.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, config.DefaultFallbackText, ack.Text)
	assert.False(t, ack.Pending)
	assert.Len(t, env.messages(t, "c1"), 1, "the user message is persisted regardless")
}

func TestChat_EmptyContent(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)

	for _, body := range []string{`{"content":""}`, `{"content":"   "}`, `{}`} {
		w := env.do(http.MethodPost, "/api/v1/chat", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	w := env.do(http.MethodPost, "/api/v1/chat", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.relay.sent)
}

func TestChat_LegacyMessageField(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	w := env.do(http.MethodPost, "/api/v1/chat", "", `{"message":"Hi","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hi", env.messages(t, "c1")[0].Content)
}

func TestChat_TokenIdentityWins(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	tok, err := env.jwt.GenerateToken(model.Profile{UserID: "from-token", Type: model.UserTypeBuyer})
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/v1/chat", "Bearer "+tok, `{"content":"Hi","userId":"from-body","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.relay.sent, 1)
	assert.Equal(t, "from-token", env.relay.sent[0].UserID)
}

func TestCallback_Unauthorized(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	body := `{"conversationId":"c1","messageId":"m1","responseText":"x"}`

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/api/v1/webhook/automation", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/api/v1/webhook/automation", "Bearer nope", body).Code)

	w := env.do(http.MethodGet, "/api/v1/conversations/c1/messages", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "rejected callbacks must not create conversations")
}

func TestCallback_UnauthorizedLeavesTranscriptUnchanged(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	w := env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"Hi","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/v1/webhook/automation", "Bearer "+callbackSecret,
		`{"conversationId":"c1","messageId":"m2","responseText":"Here are some listings"}`)
	require.Equal(t, http.StatusOK, w.Code)

	before := env.do(http.MethodGet, "/api/v1/conversations/c1/messages", "", "")
	require.Equal(t, http.StatusOK, before.Code)
	require.Len(t, env.messages(t, "c1"), 2)

	forged := `{"conversationId":"c1","messageId":"m3","responseText":"forged"}`
	for _, auth := range []string{"", "Bearer nope", "Basic " + callbackSecret, callbackSecret} {
		w := env.do(http.MethodPost, "/api/v1/webhook/automation", auth, forged)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "auth %q", auth)
	}

	after := env.do(http.MethodGet, "/api/v1/conversations/c1/messages", "", "")
	require.Equal(t, http.StatusOK, after.Code)
	assert.Equal(t, before.Body.String(), after.Body.String())
}

func TestChat_HungRelayStillAcksWithinTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	release := make(chan struct{})
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer engine.Close()
	defer close(release)

	const timeout = 100 * time.Millisecond
	repo := repository.NewMemoryConversationRepository()
	relayClient := relay.NewHTTPClient(config.RelayConfig{URL: engine.URL, Secret: "relay", Timeout: timeout})
	router := NewRouter(Services{
		Chat:         service.NewChatService(repo, relayClient, config.ChatConfig{}, timeout),
		Callback:     service.NewCallbackService(repo, nil, callbackSecret),
		Conversation: service.NewConversationService(repo),
		JWT:          token.NewJWTManager("jwt-secret", 1),
	})
	env := &testEnv{router: router, repo: repo}

	start := time.Now()
	w := env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"Hi","conversationId":"c1"}`)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ack service.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, config.DefaultFallbackText, ack.Text)
	assert.False(t, ack.Pending)
	assert.Less(t, elapsed, 2*time.Second, "the ack is bounded by the relay timeout")
	assert.Len(t, env.messages(t, "c1"), 1)
}

func TestCallback_Validation(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	auth := "Bearer " + callbackSecret

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/webhook/automation", auth, `{"messageId":"m1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/webhook/automation", auth, `{"conversationId":"c1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/webhook/automation", auth, `{oops`).Code)
}

func TestCallback_CreatesConversation(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	w := env.do(http.MethodPost, "/api/v1/webhook/automation", "Bearer "+callbackSecret,
		`{"conversationId":"fresh","messageId":"m1","responseText":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.messages(t, "fresh"), 1)
}

func TestGetMessages_UnknownConversation(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	w := env.do(http.MethodGet, "/api/v1/conversations/nope/messages", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"conversation not found"}`, w.Body.String())
}

func TestAdminConversations(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"a","userId":"alice","conversationId":"c1"}`)
	env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"b","userId":"bob","conversationId":"c2"}`)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/admin/conversations", "", "").Code)

	userTok, _ := env.jwt.GenerateToken(model.Profile{UserID: "alice"})
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/v1/admin/conversations", "Bearer "+userTok, "").Code)

	adminTok, _ := env.jwt.GenerateToken(model.Profile{UserID: "root", Admin: true})
	w := env.do(http.MethodGet, "/api/v1/admin/conversations?userid=alice", "Bearer "+adminTok, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data []struct {
			ConversationID string `json:"conversationId"`
			MessageCount   int64  `json:"messageCount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "c1", resp.Data[0].ConversationID)
	assert.Equal(t, int64(1), resp.Data[0].MessageCount)

	w = env.do(http.MethodGet, "/api/v1/admin/conversations?start_date=2024-13-01", "Bearer "+adminTok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"start_date: must be YYYY-MM-DD"}`, w.Body.String())
	w = env.do(http.MethodGet, "/api/v1/admin/conversations?end_date=yesterday", "Bearer "+adminTok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"end_date: must be YYYY-MM-DD"}`, w.Body.String())

	today := time.Now().Format("2006-01-02")
	w = env.do(http.MethodGet, "/api/v1/admin/conversations?start_date="+today+"&end_date="+today, "Bearer "+adminTok, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	env.do(http.MethodPost, "/api/v1/chat", "", `{"content":"Hi"}`)
	w := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "estate_assist_relay_dispatch_total")
}

func TestStreamPushesNewMessages(t *testing.T) {
	env := newEnv(t, relay.OutcomeOK)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, err := env.repo.UpsertAppend(context.Background(), "c1", nil, model.ChatMessage{ID: "m1", Role: model.RoleUser, Content: "Hi"})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/c1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.NotNil(t, frame.Data)
	assert.Equal(t, "message", frame.Type)
	assert.Equal(t, "m1", frame.Data.ID)

	w := env.do(http.MethodPost, "/api/v1/webhook/automation", "Bearer "+callbackSecret,
		`{"conversationId":"c1","messageId":"m2","responseText":"Here you go"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&frame))
	require.NotNil(t, frame.Data)
	assert.Equal(t, "m2", frame.Data.ID)
	assert.Equal(t, model.RoleAssistant, frame.Data.Role)
}
