package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"estate-assist-go/internal/model"
	"estate-assist-go/internal/repository"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/chatclient"
	"estate-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

const streamWriteTimeout = 5 * time.Second

// streamFrame 是推送给 WebSocket 客户端的一帧。
type streamFrame struct {
	Type string             `json:"type"`
	Data *model.ChatMessage `json:"data,omitempty"`
}

// StreamHandler 通过 WebSocket 推送会话中新出现的消息。
// 服务端替客户端轮询存储，客户端只需要接收。
type StreamHandler struct {
	conversationService service.ConversationService
	interval            time.Duration
}

// NewStreamHandler 创建一个新的 StreamHandler。interval 为服务端轮询存储的周期。
func NewStreamHandler(conversationService service.ConversationService, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = chatclient.DefaultPollInterval
	}
	return &StreamHandler{conversationService: conversationService, interval: interval}
}

// Fetch 让 StreamHandler 作为 Synchronizer 的数据源：会话不存在视为暂时没有消息。
func (h *StreamHandler) Fetch(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	msgs, err := h.conversationService.GetMessages(ctx, conversationID)
	if errors.Is(err, repository.ErrConversationNotFound) {
		return nil, chatclient.ErrNotFound
	}
	return msgs, err
}

// Handle 处理一个传入的 WebSocket 连接，连接关闭时停止轮询。
func (h *StreamHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversationId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := chatclient.NewSynchronizer(h,
		chatclient.WithInterval(h.interval),
		chatclient.WithOnMerge(func(msgs []model.ChatMessage) {
			for i := range msgs {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(streamFrame{Type: "message", Data: &msgs[i]}); err != nil {
					log.Warnf("WebSocket 推送失败: %v", err)
					cancel()
					return
				}
			}
		}),
	)
	syncer.SetConversation(conversationID)
	if err := syncer.Start(ctx); err != nil {
		log.Error("启动会话同步失败", err)
		return
	}
	defer syncer.Stop()

	log.Infof("WebSocket 会话流已建立: conversation=%s", conversationID)

	// 客户端不发送业务消息，读循环只用来感知断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	<-ctx.Done()
	log.Infof("WebSocket 会话流已关闭: conversation=%s", conversationID)
}
