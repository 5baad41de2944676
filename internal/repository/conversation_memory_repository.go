package repository

import (
	"context"
	"sync"
	"time"

	"estate-assist-go/internal/model"
)

// memoryConversation 是一个会话在内存中的状态，mu 串行化对它的所有追加。
type memoryConversation struct {
	mu       sync.Mutex
	meta     model.Conversation
	messages []model.ChatMessage
	ids      map[string]struct{}
}

// memoryConversationRepository 是进程内的会话存储，每个会话一把锁。
// 用于本地开发和测试，进程退出后数据丢失。
type memoryConversationRepository struct {
	mu            sync.Mutex // 只保护 conversations 这张表本身
	conversations map[string]*memoryConversation
}

// NewMemoryConversationRepository 创建一个内存版的 ConversationRepository。
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{conversations: make(map[string]*memoryConversation)}
}

func (r *memoryConversationRepository) lookup(conversationID string) (*memoryConversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	return c, ok
}

// getOrCreate 在全局锁内完成“不存在则创建”，同一个 ID 只会得到一个会话。
func (r *memoryConversationRepository) getOrCreate(conversationID string, ownerID *string, now time.Time) *memoryConversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[conversationID]; ok {
		return c
	}
	c := &memoryConversation{
		meta: model.Conversation{
			ID:        conversationID,
			UserID:    copyString(ownerID),
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ids: make(map[string]struct{}),
	}
	r.conversations[conversationID] = c
	return c
}

func (r *memoryConversationRepository) UpsertAppend(ctx context.Context, conversationID string, ownerID *string, msg model.ChatMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c := r.getOrCreate(conversationID, ownerID, time.Now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta.UserID == nil && ownerID != nil {
		c.meta.UserID = copyString(ownerID)
	}
	if _, dup := c.ids[msg.ID]; dup {
		return false, nil
	}
	c.ids[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	c.meta.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := r.lookup(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (r *memoryConversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := r.lookup(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	meta := c.meta
	return &meta, nil
}

func (r *memoryConversationRepository) ListConversations(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	all := make([]*memoryConversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		all = append(all, c)
	}
	r.mu.Unlock()

	items := make([]model.ConversationSummary, 0, len(all))
	for _, c := range all {
		c.mu.Lock()
		meta, count := c.meta, int64(len(c.messages))
		c.mu.Unlock()
		if !filter.matches(meta) {
			continue
		}
		items = append(items, model.ConversationSummary{Conversation: meta, MessageCount: count})
	}
	sortSummaries(items)
	return items, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
