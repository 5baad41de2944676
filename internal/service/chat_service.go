// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"strings"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/metrics"
	"estate-assist-go/pkg/payload"
	"estate-assist-go/pkg/relay"

	"github.com/google/uuid"
)

// SubmitRequest 是用户提交的一条消息。ConversationID 为空时开启新会话，UserID 为空表示匿名。
type SubmitRequest struct {
	Content        string
	ConversationID string
	UserID         *string
}

// SubmitResult 是立即返回给用户的确认。
// Pending 为 true 表示自动化引擎已接收，助手回复稍后通过轮询到达。
type SubmitResult struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Pending        bool      `json:"pending"`
}

// ChatService 定义了消息入口的接口。
type ChatService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	relayClient      relay.Client
	cfg              config.ChatConfig
	relayTimeout     time.Duration
	now              func() time.Time
	newID            func() string
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(conversationRepo repository.ConversationRepository, relayClient relay.Client, cfg config.ChatConfig, relayTimeout time.Duration) ChatService {
	if cfg.AckText == "" {
		cfg.AckText = config.DefaultAckText
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = config.DefaultFallbackText
	}
	if relayTimeout <= 0 {
		relayTimeout = 5 * time.Second
	}
	return &chatService{
		conversationRepo: conversationRepo,
		relayClient:      relayClient,
		cfg:              cfg,
		relayTimeout:     relayTimeout,
		now:              time.Now,
		newID:            uuid.NewString,
	}
}

// Submit 先记录用户消息，再把它转交给自动化引擎，最后返回确认文案。
// 转发失败不会让请求失败：用户消息已经落库，只是确认文案换成降级提示。
func (s *chatService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}

	if err := checkIDLength("conversationId", req.ConversationID); err != nil {
		return nil, err
	}
	if req.UserID != nil {
		if err := checkIDLength("userId", *req.UserID); err != nil {
			return nil, err
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = s.newID()
	}
	msg := model.ChatMessage{
		ID:        s.newID(),
		Role:      model.RoleUser,
		Content:   req.Content,
		Timestamp: s.now().UTC(),
	}

	if _, err := s.conversationRepo.UpsertAppend(ctx, conversationID, req.UserID, msg); err != nil {
		metrics.StoreAppends.WithLabelValues(string(model.RoleUser), "error").Inc()
		log.Errorf("保存用户消息失败: conversation=%s, err=%v", conversationID, err)
		return nil, &PersistenceError{Op: "append user message", Err: err}
	}
	metrics.StoreAppends.WithLabelValues(string(model.RoleUser), "appended").Inc()

	relayReq := payload.RelayRequest{
		MessageID:      msg.ID,
		Message:        msg.Content,
		ConversationID: conversationID,
		Timestamp:      msg.Timestamp,
	}
	if req.UserID != nil {
		relayReq.UserID = *req.UserID
	}

	// 用户断开连接不应取消已经开始的转发，但转发本身有上限
	relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.relayTimeout)
	defer cancel()
	res := s.relayClient.Dispatch(relayCtx, relayReq)
	metrics.RelayDispatches.WithLabelValues(string(res.Outcome)).Inc()

	result := &SubmitResult{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Timestamp:      s.now().UTC(),
	}
	if res.OK() {
		result.Text = s.cfg.AckText
		result.Pending = true
	} else {
		log.Warnw("自动化引擎不可用",
			"conversationId", conversationID,
			"messageId", msg.ID,
			"outcome", res.Outcome,
			"status", res.StatusCode,
			"error", res.Err,
		)
		result.Text = s.cfg.FallbackText
	}
	return result, nil
}
