package service

import (
	"context"
	"errors"

	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
)

// ConversationService 定义了会话读取的接口。
type ConversationService interface {
	// GetMessages 按追加顺序返回会话消息，会话不存在时返回 repository.ErrConversationNotFound。
	GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	// ListConversations 供管理端浏览会话。
	ListConversations(ctx context.Context, filter repository.ConversationFilter) ([]model.ConversationSummary, error)
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

func (s *conversationService) GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	if conversationID == "" {
		return nil, &ValidationError{Field: "conversationId", Reason: "is required"}
	}
	msgs, err := s.repo.GetMessages(ctx, conversationID)
	if errors.Is(err, repository.ErrConversationNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load messages", Err: err}
	}
	return msgs, nil
}

func (s *conversationService) ListConversations(ctx context.Context, filter repository.ConversationFilter) ([]model.ConversationSummary, error) {
	items, err := s.repo.ListConversations(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list conversations", Err: err}
	}
	return items, nil
}
