package handler

import (
	"time"

	"estate-assist-go/internal/middleware"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services 汇总路由需要的业务依赖。
type Services struct {
	Chat         service.ChatService
	Callback     service.CallbackService
	Conversation service.ConversationService
	JWT          *token.JWTManager
	// StreamInterval 是 WebSocket 会话流轮询存储的周期，零值使用默认值。
	StreamInterval time.Duration
}

// NewRouter 创建路由引擎并注册所有路由。
func NewRouter(s Services) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	callbackAuth := middleware.CallbackAuthMiddleware(s.Callback)
	callbackHandler := NewCallbackHandler(s.Callback)
	// 自动化引擎中原有的回调地址
	r.POST("/api/webhook/n8n", callbackAuth, callbackHandler.Receive)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/chat", middleware.AuthMiddleware(s.JWT, false), NewChatHandler(s.Chat).Submit)
		apiV1.POST("/webhook/automation", callbackAuth, callbackHandler.Receive)

		conversations := apiV1.Group("/conversations")
		{
			conversations.GET("/:conversationId/messages", NewConversationHandler(s.Conversation).GetMessages)
			conversations.GET("/:conversationId/stream", NewStreamHandler(s.Conversation, s.StreamInterval).Handle)
		}

		admin := apiV1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(s.JWT, true), middleware.AdminAuthMiddleware())
		{
			admin.GET("/conversations", NewAdminHandler(s.Conversation).GetAllConversations)
		}
	}
	return r
}
