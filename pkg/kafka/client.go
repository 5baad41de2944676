// Package kafka 提供了从 Kafka 消费自动化引擎回调的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/internal/service"
	"estate-assist-go/pkg/log"
	"estate-assist-go/pkg/payload"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MaxAttempts 是同一条回调允许失败的次数，达到后提交 offset 放弃重试。
const MaxAttempts = 3

// CallbackAcceptor 是消费者依赖的回调处理能力，由 service.CallbackService 实现。
// 这里解耦了 Kafka 消费者与具体的业务实现。
type CallbackAcceptor interface {
	AcceptRaw(ctx context.Context, source string, raw []byte) (bool, error)
}

// messageReader 是 kafka.Reader 中用到的方法。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CallbackConsumer 从回调主题读取消息并写入会话。
// 处理成功（包括重复）才提交 offset；存储失败时在本进程内退避重试，
// 失败次数记在 Redis 里，进程重启后继续累计，达到 MaxAttempts 才放弃。
type CallbackConsumer struct {
	reader     messageReader
	acceptor   CallbackAcceptor
	rdb        *redis.Client
	logger     *zap.SugaredLogger
	retryDelay time.Duration
}

// NewCallbackConsumer 创建一个回调消费者。rdb 用来记录每条回调的失败次数，可以为 nil。
func NewCallbackConsumer(cfg config.KafkaConfig, acceptor CallbackAcceptor, rdb *redis.Client) *CallbackConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.CallbackTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return newCallbackConsumer(r, acceptor, rdb)
}

func newCallbackConsumer(reader messageReader, acceptor CallbackAcceptor, rdb *redis.Client) *CallbackConsumer {
	return &CallbackConsumer{
		reader:     reader,
		acceptor:   acceptor,
		rdb:        rdb,
		logger:     log.With("component", "callback-consumer"),
		retryDelay: 500 * time.Millisecond,
	}
}

// Run 持续消费直到 ctx 被取消。
func (c *CallbackConsumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka 回调消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Errorw("关闭 Kafka 消费者失败", "error", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		c.handle(ctx, m)
	}
}

// handle 处理一条消息，并决定是否提交 offset。
// ctx 取消时直接返回且不提交，消息会在下次分配分区时重新投递。
func (c *CallbackConsumer) handle(ctx context.Context, m kafka.Message) {
	c.logger.Debugw("收到 Kafka 回调消息", "partition", m.Partition, "offset", m.Offset)
	key := attemptsKey(m)

	for local := int64(1); ; local++ {
		_, err := c.acceptor.AcceptRaw(ctx, service.SourceKafka, m.Value)
		if err == nil {
			c.clearAttempts(ctx, key)
			c.commit(ctx, m)
			return
		}
		if errors.Is(err, service.ErrValidation) {
			// 消息格式错误，直接提交，避免阻塞队列
			c.logger.Errorw("无法处理 Kafka 回调消息", "offset", m.Offset, "error", err, "value", string(m.Value))
			c.commit(ctx, m)
			return
		}

		attempts := c.recordFailure(ctx, key, local)
		c.logger.Errorw("处理 Kafka 回调失败", "offset", m.Offset, "attempt", attempts, "error", err)
		if attempts >= MaxAttempts {
			c.logger.Errorw("回调多次失败，提交 offset 终止重试", "offset", m.Offset, "maxAttempts", MaxAttempts)
			// 清掉计数，之后同一条回调重新投递时重新获得完整的重试次数
			c.clearAttempts(ctx, key)
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay * time.Duration(attempts)):
		}
	}
}

// recordFailure 在 Redis 中累加失败次数并返回累计值；Redis 不可用时退回本地计数。
func (c *CallbackConsumer) recordFailure(ctx context.Context, key string, local int64) int64 {
	if c.rdb == nil {
		return local
	}
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Warnw("记录回调失败次数失败", "key", key, "error", err)
		return local
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n
}

func (c *CallbackConsumer) clearAttempts(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warnw("清理回调失败次数失败", "key", key, "error", err)
	}
}

func (c *CallbackConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Errorw("提交 Kafka 消息 offset 失败", "offset", m.Offset, "error", err)
	}
}

// attemptsKey 以会话和消息 ID 标识一条回调；解析不出时退回到分区和 offset。
func attemptsKey(m kafka.Message) string {
	var req payload.CallbackRequest
	if err := json.Unmarshal(m.Value, &req); err == nil && req.ConversationID != "" && req.MessageID != "" {
		return fmt.Sprintf("kafka:attempts:callback:%s:%s", req.ConversationID, req.MessageID)
	}
	return fmt.Sprintf("kafka:attempts:%s:%d:%d", m.Topic, m.Partition, m.Offset)
}
