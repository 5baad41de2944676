package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate-assist-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormConversationRepository 是 ConversationRepository 的 GORM 实现（生产环境使用 MySQL）。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的 GORM 会话存储。
// db 需要以 TranslateError: true 打开，才能把唯一键冲突识别为重复消息。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// UpsertAppend 在一个事务里完成“创建会话（若不存在）+ 补全归属 + 去重 + 追加”。
// 会话行上的 SELECT ... FOR UPDATE 让同一会话的追加串行执行，seq 由此单调递增；
// 重复的消息 ID 由唯一索引拒绝，报告为 appended=false。
func (r *gormConversationRepository) UpsertAppend(ctx context.Context, conversationID string, ownerID *string, msg model.ChatMessage) (bool, error) {
	appended := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		conv := model.ConversationRecord{
			ID:        conversationID,
			UserID:    ownerID,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}

		var locked model.ConversationRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversationID).
			Take(&locked).Error; err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		// 回调可能先于用户消息创建会话，此时归属为空，由第一条带用户的追加补上
		if locked.UserID == nil && ownerID != nil {
			if err := tx.Model(&model.ConversationRecord{}).
				Where("id = ? AND user_id IS NULL", conversationID).
				Update("user_id", *ownerID).Error; err != nil {
				return fmt.Errorf("failed to set conversation owner: %w", err)
			}
		}

		var maxSeq int64
		if err := tx.Model(&model.MessageRecord{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read last seq: %w", err)
		}

		rec, err := model.NewMessageRecord(conversationID, maxSeq+1, msg)
		if err != nil {
			return err
		}
		// 去重由 (conversation_id, message_id) 唯一索引完成
		if err := tx.Create(&rec).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("failed to insert message: %w", err)
			}
			var existing int64
			if cerr := tx.Model(&model.MessageRecord{}).
				Where("conversation_id = ? AND message_id = ?", conversationID, msg.ID).
				Count(&existing).Error; cerr != nil {
				return fmt.Errorf("failed to check message id: %w", cerr)
			}
			if existing == 0 {
				// 冲突的是 seq 而不是消息 ID，说明行锁没有生效
				return fmt.Errorf("failed to insert message: %w", err)
			}
			return nil
		}

		if err := tx.Model(&model.ConversationRecord{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error; err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		appended = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (r *gormConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	if _, err := r.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	var records []model.MessageRecord
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(records))
	for _, rec := range records {
		msg, err := rec.ToMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *gormConversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var rec model.ConversationRecord
	err := r.db.WithContext(ctx).Where("id = ?", conversationID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv := rec.ToConversation()
	return &conv, nil
}

func (r *gormConversationRepository) ListConversations(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, error) {
	query := r.db.WithContext(ctx).Model(&model.ConversationRecord{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", *filter.Until)
	}

	var records []model.ConversationRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(records) == 0 {
		return []model.ConversationSummary{}, nil
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	var counts []struct {
		ConversationID string
		Total          int64
	}
	if err := r.db.WithContext(ctx).Model(&model.MessageRecord{}).
		Select("conversation_id, COUNT(*) AS total").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	countByID := make(map[string]int64, len(counts))
	for _, c := range counts {
		countByID[c.ConversationID] = c.Total
	}

	items := make([]model.ConversationSummary, 0, len(records))
	for _, rec := range records {
		items = append(items, model.ConversationSummary{
			Conversation: rec.ToConversation(),
			MessageCount: countByID[rec.ID],
		})
	}
	sortSummaries(items)
	return items, nil
}
