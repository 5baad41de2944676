package handler

import (
	"net/http"

	"estate-assist-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetMessages 返回会话的全部消息，按追加顺序排列。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	msgs, err := h.service.GetMessages(c.Request.Context(), c.Param("conversationId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
