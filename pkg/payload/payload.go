// Package payload 定义了与自动化引擎之间交换的消息结构，HTTP 和 Kafka 共用同一份 JSON。
package payload

import (
	"encoding/json"
	"time"
)

// RelayRequest 是发往自动化引擎的出站消息。
type RelayRequest struct {
	UserID         string    `json:"userId"`
	MessageID      string    `json:"messageId"`
	Message        string    `json:"message"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// CallbackRequest 是自动化引擎回调时携带的助手回复。
// userId 是引擎回显的会话归属，回调先于用户消息到达时用它创建会话；message 只是回显，不参与存储。
type CallbackRequest struct {
	UserID                 string            `json:"userId,omitempty"`
	MessageID              string            `json:"messageId"`
	Message                string            `json:"message,omitempty"`
	ConversationID         string            `json:"conversationId"`
	ResponseText           string            `json:"responseText"`
	Suggestions            []string          `json:"suggestions,omitempty"`
	Properties             []json.RawMessage `json:"properties,omitempty"`
	TransportationServices []json.RawMessage `json:"transportationServices,omitempty"`
}
