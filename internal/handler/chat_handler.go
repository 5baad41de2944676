// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"estate-assist-go/internal/middleware"
	"estate-assist-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 处理用户提交消息的请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatRequest 是 POST /api/v1/chat 的请求体。旧客户端使用 message 字段传内容。
type chatRequest struct {
	Content        string  `json:"content"`
	Message        string  `json:"message"`
	UserID         *string `json:"userId"`
	ConversationID string  `json:"conversationId"`
}

// Submit 记录用户消息并转交自动化引擎，立即返回确认。
func (h *ChatHandler) Submit(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	content := req.Content
	if content == "" {
		content = req.Message
	}
	userID := req.UserID
	if userID != nil && *userID == "" {
		userID = nil
	}
	// 已登录时以令牌中的身份为准
	if profile := middleware.CurrentProfile(c); profile != nil {
		uid := profile.UserID
		userID = &uid
	}

	res, err := h.chatService.Submit(c.Request.Context(), service.SubmitRequest{
		Content:        content,
		ConversationID: req.ConversationID,
		UserID:         userID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
