package handler

import (
	"net/http"
	"time"

	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
	"estate-assist-go/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler 处理管理端的会话浏览请求。
type AdminHandler struct {
	conversationService service.ConversationService
}

// NewAdminHandler 创建一个新的 AdminHandler。
func NewAdminHandler(conversationService service.ConversationService) *AdminHandler {
	return &AdminHandler{conversationService: conversationService}
}

// conversationDTO 是管理端列表中的一行。
type conversationDTO struct {
	ConversationID string          `json:"conversationId"`
	UserID         *string         `json:"userId"`
	IsActive       bool            `json:"isActive"`
	MessageCount   int64           `json:"messageCount"`
	CreatedAt      model.LocalTime `json:"createdAt"`
	UpdatedAt      model.LocalTime `json:"updatedAt"`
}

// GetAllConversations handles the request to get all conversations, optionally filtered by user and date.
func (h *AdminHandler) GetAllConversations(c *gin.Context) {
	var filter repository.ConversationFilter
	if userID := c.Query("userid"); userID != "" {
		filter.UserID = &userID
	}

	since, err := parseDateParam(c, "start_date")
	if err != nil {
		abortWithError(c, err)
		return
	}
	filter.Since = since
	until, err := parseDateParam(c, "end_date")
	if err != nil {
		abortWithError(c, err)
		return
	}
	if until != nil {
		// 包含结束日期当天
		t := until.Add(24*time.Hour - time.Nanosecond)
		filter.Until = &t
	}

	items, err := h.conversationService.ListConversations(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}

	data := make([]conversationDTO, 0, len(items))
	for _, it := range items {
		data = append(data, conversationDTO{
			ConversationID: it.ID,
			UserID:         it.UserID,
			IsActive:       it.IsActive,
			MessageCount:   it.MessageCount,
			CreatedAt:      model.LocalTime(it.CreatedAt),
			UpdatedAt:      model.LocalTime(it.UpdatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// parseDateParam 解析 YYYY-MM-DD 格式的查询参数，缺省时返回 nil。
func parseDateParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, &service.ValidationError{Field: name, Reason: "must be YYYY-MM-DD"}
	}
	return &t, nil
}
