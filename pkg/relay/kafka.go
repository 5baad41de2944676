package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/pkg/payload"

	"github.com/segmentio/kafka-go"
)

// messageWriter 是 kafka.Writer 中用到的部分，测试里可以替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaClient struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaClient 创建一个把转发请求写入 Kafka 主题的客户端。
// 消息以会话 ID 为 key，同一会话的消息落在同一分区，保持顺序。
func NewKafkaClient(cfg config.KafkaConfig, timeout time.Duration) Client {
	return &kafkaClient{writer: newKafkaWriter(cfg), timeout: timeout}
}

// writerBatchTimeout 限制单条消息在 Writer 里等待凑批的时间。
// 每次 Dispatch 只写一条并同步等待 ack，默认的 1s 会直接加到确认延迟上。
const writerBatchTimeout = 10 * time.Millisecond

func newKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.RelayTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: writerBatchTimeout,
	}
}

func (c *kafkaClient) Dispatch(ctx context.Context, req payload.RelayRequest) Result {
	value, err := json.Marshal(req)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("failed to marshal relay request: %w", err)}
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	err = c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.ConversationID),
		Value: value,
	})
	if err != nil {
		return Result{Outcome: classify(err), Err: fmt.Errorf("failed to produce relay message: %w", err)}
	}
	return Result{Outcome: OutcomeOK}
}

func (c *kafkaClient) Close() error {
	return c.writer.Close()
}
