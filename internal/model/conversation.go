// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role 表示消息的作者。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 报告角色是否为 user 或 assistant。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Attachments 是助手消息附带的内容：追问建议和推荐的房源/运输服务。
// 推荐实体对会话子系统是不透明的，按原始 JSON 保存。
type Attachments struct {
	Suggestions            []string          `json:"suggestions,omitempty"`
	Properties             []json.RawMessage `json:"properties,omitempty"`
	TransportationServices []json.RawMessage `json:"transportationServices,omitempty"`
}

// Empty 报告附件是否为空。
func (a Attachments) Empty() bool {
	return len(a.Suggestions) == 0 && len(a.Properties) == 0 && len(a.TransportationServices) == 0
}

// ChatMessage 代表会话中的一条不可变消息。
// ID 在会话内唯一，是去重的依据。
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Attachments
}

// Conversation 是一条会话的元数据。UserID 为空表示匿名会话。
type Conversation struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary 用于管理端列表展示。
type ConversationSummary struct {
	Conversation
	MessageCount int64 `json:"messageCount"`
}

// MaxIDLength 是会话、消息和用户 ID 的最大长度，与表结构中的 varchar(64) 一致。
// 所有存储实现都按这个上限校验，避免只有 MySQL 拒绝超长 ID。
const MaxIDLength = 64

// ConversationRecord 对应数据库中的 conversations 表。
type ConversationRecord struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	UserID    *string   `gorm:"type:varchar(64);index"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationRecord) TableName() string {
	return "conversations"
}

// ToConversation 转换为领域对象。
func (r ConversationRecord) ToConversation() Conversation {
	return Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// MessageRecord 对应数据库中的 conversation_messages 表。
// (conversation_id, message_id) 唯一保证去重，(conversation_id, seq) 唯一保证追加顺序。
type MessageRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_conv_message,priority:1;uniqueIndex:ux_conv_seq,priority:1"`
	MessageID      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_conv_message,priority:2"`
	Seq            int64     `gorm:"not null;uniqueIndex:ux_conv_seq,priority:2"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Content        string    `gorm:"type:text;not null"`
	Attachments    string    `gorm:"type:text"`
	Timestamp      time.Time `gorm:"not null"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MessageRecord) TableName() string {
	return "conversation_messages"
}

// NewMessageRecord 把消息编码为一行记录，附件序列化为 JSON 文本。
func NewMessageRecord(conversationID string, seq int64, msg ChatMessage) (MessageRecord, error) {
	rec := MessageRecord{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Seq:            seq,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
	}
	if !msg.Attachments.Empty() {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return MessageRecord{}, fmt.Errorf("failed to marshal attachments: %w", err)
		}
		rec.Attachments = string(b)
	}
	return rec, nil
}

// ToMessage 把记录还原为消息。
func (r MessageRecord) ToMessage() (ChatMessage, error) {
	msg := ChatMessage{
		ID:        r.MessageID,
		Role:      Role(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return ChatMessage{}, fmt.Errorf("failed to unmarshal attachments of message %s: %w", r.MessageID, err)
		}
	}
	return msg, nil
}
