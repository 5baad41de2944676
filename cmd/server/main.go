// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/internal/handler"
	"estate-assist-go/internal/repository"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/database"
	"estate-assist-go/pkg/kafka"
	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/relay"
	"estate-assist-go/pkg/storage"
	"estate-assist-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化存储
	if cfg.Store.Driver == "redis" || cfg.Kafka.CallbackTopic != "" {
		database.InitRedis(cfg.Database.Redis)
	}
	conversationRepo := newConversationRepository(cfg)

	var archiver service.Archiver = storage.NoopArchiver{}
	if cfg.MinIO.Enabled {
		a, err := storage.NewMinIOArchiver(context.Background(), cfg.MinIO)
		if err != nil {
			log.Fatal("初始化 MinIO 归档失败", err)
		}
		archiver = a
	}

	// 4. 初始化 Service (依赖注入)
	relayClient, err := relay.NewClient(cfg)
	if err != nil {
		log.Fatal("初始化自动化引擎客户端失败", err)
	}
	defer relayClient.Close()
	if cfg.Callback.Secret == "" {
		log.Warnf("callback.secret 未配置，所有回调都会被拒绝")
	}

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	chatService := service.NewChatService(conversationRepo, relayClient, cfg.Chat, cfg.Relay.Timeout)
	callbackService := service.NewCallbackService(conversationRepo, archiver, cfg.Callback.Secret)
	conversationService := service.NewConversationService(conversationRepo)

	// 5. 启动后台 Kafka 回调消费者
	bgCtx, cancelBg := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	if cfg.Kafka.CallbackTopic != "" {
		consumer := kafka.NewCallbackConsumer(cfg.Kafka, callbackService, database.RDB)
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := consumer.Run(bgCtx); err != nil {
				log.Errorf("Kafka 回调消费者退出: %v", err)
			}
		}()
	}

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Services{
		Chat:         chatService,
		Callback:     callbackService,
		Conversation: conversationService,
		JWT:          jwtManager,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	cancelBg()
	bg.Wait()
	database.CloseMySQL()
	if database.RDB != nil {
		_ = database.RDB.Close()
	}
	log.Info("服务已优雅关闭")
}

// newConversationRepository 根据 store.driver 选择会话存储的实现。
func newConversationRepository(cfg config.Config) repository.ConversationRepository {
	switch cfg.Store.Driver {
	case "redis":
		log.Info("会话存储: redis")
		return repository.NewRedisConversationRepository(database.RDB)
	case "memory":
		log.Warnf("会话存储: memory，进程退出后数据丢失")
		return repository.NewMemoryConversationRepository()
	default:
		database.InitMySQL(cfg.Database.MySQL)
		log.Info("会话存储: mysql")
		return repository.NewGormConversationRepository(database.DB)
	}
}
