// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"estate-assist-go/internal/model"
)

// ErrConversationNotFound 表示会话不存在。
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationFilter 是会话列表的过滤条件，零值表示不过滤。
// Since/Until 作用于会话的创建时间。
type ConversationFilter struct {
	UserID *string
	Since  *time.Time
	Until  *time.Time
}

func (f ConversationFilter) matches(c model.Conversation) bool {
	if f.UserID != nil && (c.UserID == nil || *c.UserID != *f.UserID) {
		return false
	}
	if f.Since != nil && c.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && c.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// ConversationRepository 定义了会话存储的操作接口。
//
// UpsertAppend 对同一个会话 ID 是线性化的：会话不存在时创建，消息 ID 已存在时什么也不做
// （返回 false），否则把消息追加到末尾。GetMessages 按追加顺序返回消息。
type ConversationRepository interface {
	UpsertAppend(ctx context.Context, conversationID string, ownerID *string, msg model.ChatMessage) (bool, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, error)
}

// sortSummaries 按创建时间倒序排列，最新的会话在前。
func sortSummaries(items []model.ConversationSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
