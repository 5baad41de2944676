package handler

import (
	"errors"
	"net/http"

	"estate-assist-go/internal/repository"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// abortWithError 把业务错误映射为 HTTP 状态码，响应中不暴露内部细节。
func abortWithError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, service.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, service.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, repository.ErrConversationNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		log.Errorf("请求处理失败: path=%s, err=%v", c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
