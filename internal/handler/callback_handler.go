package handler

import (
	"io"
	"net/http"

	"estate-assist-go/internal/service"

	"github.com/gin-gonic/gin"
)

// maxCallbackBody 限制回调请求体的大小。
const maxCallbackBody = 1 << 20

// CallbackHandler 接收自动化引擎的回调。认证由 CallbackAuthMiddleware 在此之前完成。
type CallbackHandler struct {
	callbackService service.CallbackService
}

// NewCallbackHandler 创建一个新的 CallbackHandler。
func NewCallbackHandler(callbackService service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbackService: callbackService}
}

// Receive 把助手回复写入会话；重复投递同样返回 accepted。
func (h *CallbackHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if _, err := h.callbackService.AcceptRaw(c.Request.Context(), service.SourceHTTP, raw); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
