// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"estate-assist-go/internal/model"
	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ProfileKey 是 Profile 在 gin.Context 中的键。
const ProfileKey = "profile"

// bearerToken 从 Authorization 头中取出 token，格式不对时返回空串。
func bearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// required 为 false 时允许匿名访问：没有 Authorization 头就直接放行；
// 一旦带了头，token 必须有效。通过认证的 Profile 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
				return
			}
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		profile, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(ProfileKey, profile)
		c.Next()
	}
}

// CurrentProfile 返回已认证的调用方，匿名时返回 nil。
func CurrentProfile(c *gin.Context) *model.Profile {
	v, ok := c.Get(ProfileKey)
	if !ok {
		return nil
	}
	p, _ := v.(*model.Profile)
	return p
}
