package middleware

import (
	"net/http"

	"estate-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// CallbackAuthenticator 校验回调的共享密钥。
type CallbackAuthenticator interface {
	Authenticate(token string) error
}

// CallbackAuthMiddleware 在读取请求体之前校验 Authorization: Bearer <secret>。
func CallbackAuthMiddleware(auth CallbackAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authenticate(bearerToken(c)); err != nil {
			log.Warnf("拒绝未授权的回调: clientIP=%s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
