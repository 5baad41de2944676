package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/metrics"
	"estate-assist-go/pkg/payload"
)

// 回调的投递来源，用于指标标签。
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Archiver 保存原始回调负载，供事后排查。
type Archiver interface {
	Archive(ctx context.Context, conversationID, messageID string, raw []byte) error
}

// CallbackService 处理自动化引擎的回调。
type CallbackService interface {
	// Authenticate 校验回调携带的共享密钥。
	Authenticate(token string) error
	// Accept 把助手回复追加到会话；返回 false 表示同一 messageId 已经处理过。
	Accept(ctx context.Context, req payload.CallbackRequest) (bool, error)
	// AcceptRaw 解析原始 JSON 后调用 Accept，新追加的回调会被归档。
	AcceptRaw(ctx context.Context, source string, raw []byte) (bool, error)
}

type callbackService struct {
	conversationRepo repository.ConversationRepository
	archiver         Archiver
	secret           []byte
	now              func() time.Time
}

// NewCallbackService 创建一个新的 CallbackService。secret 为空时拒绝所有回调。
func NewCallbackService(conversationRepo repository.ConversationRepository, archiver Archiver, secret string) CallbackService {
	return &callbackService{
		conversationRepo: conversationRepo,
		archiver:         archiver,
		secret:           []byte(secret),
		now:              time.Now,
	}
}

func (s *callbackService) Authenticate(token string) error {
	if len(s.secret) == 0 || token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), s.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (s *callbackService) Accept(ctx context.Context, req payload.CallbackRequest) (bool, error) {
	return s.accept(ctx, SourceHTTP, req, nil)
}

func (s *callbackService) AcceptRaw(ctx context.Context, source string, raw []byte) (bool, error) {
	var req payload.CallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		metrics.CallbackResults.WithLabelValues(source, "rejected").Inc()
		return false, &ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return s.accept(ctx, source, req, raw)
}

func (s *callbackService) accept(ctx context.Context, source string, req payload.CallbackRequest, raw []byte) (bool, error) {
	if err := validateCallback(req); err != nil {
		metrics.CallbackResults.WithLabelValues(source, "rejected").Inc()
		return false, err
	}

	msg := model.ChatMessage{
		ID:        req.MessageID,
		Role:      model.RoleAssistant,
		Content:   req.ResponseText,
		Timestamp: s.now().UTC(),
		Attachments: model.Attachments{
			Suggestions:            req.Suggestions,
			Properties:             req.Properties,
			TransportationServices: req.TransportationServices,
		},
	}

	// 会话不存在时由存储层创建，回调可能先于用户消息到达；归属取引擎回显的 userId
	var owner *string
	if uid := strings.TrimSpace(req.UserID); uid != "" {
		owner = &uid
	}
	appended, err := s.conversationRepo.UpsertAppend(ctx, req.ConversationID, owner, msg)
	if err != nil {
		metrics.StoreAppends.WithLabelValues(string(model.RoleAssistant), "error").Inc()
		metrics.CallbackResults.WithLabelValues(source, "failed").Inc()
		log.Errorf("保存助手回复失败: conversation=%s, message=%s, err=%v", req.ConversationID, req.MessageID, err)
		return false, &PersistenceError{Op: "append assistant message", Err: err}
	}
	if !appended {
		metrics.StoreAppends.WithLabelValues(string(model.RoleAssistant), "duplicate").Inc()
		metrics.CallbackResults.WithLabelValues(source, "duplicate").Inc()
		log.Infof("重复的回调已忽略: conversation=%s, message=%s", req.ConversationID, req.MessageID)
		return false, nil
	}
	metrics.StoreAppends.WithLabelValues(string(model.RoleAssistant), "appended").Inc()
	metrics.CallbackResults.WithLabelValues(source, "appended").Inc()

	if s.archiver != nil {
		if raw == nil {
			raw, _ = json.Marshal(req)
		}
		if err := s.archiver.Archive(ctx, req.ConversationID, req.MessageID, raw); err != nil {
			log.Warnf("归档回调失败: %v", err)
		}
	}
	return true, nil
}

func validateCallback(req payload.CallbackRequest) error {
	if strings.TrimSpace(req.ConversationID) == "" {
		return &ValidationError{Field: "conversationId", Reason: "is required"}
	}
	if strings.TrimSpace(req.MessageID) == "" {
		return &ValidationError{Field: "messageId", Reason: "is required"}
	}
	if err := checkIDLength("conversationId", req.ConversationID); err != nil {
		return err
	}
	if err := checkIDLength("messageId", req.MessageID); err != nil {
		return err
	}
	return checkIDLength("userId", req.UserID)
}
