// Package relay 负责把用户消息转交给外部自动化引擎。
// 只做一次尝试，不重试；结果分为 ok、timeout、rejected 三类。
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"estate-assist-go/internal/config"
	"estate-assist-go/pkg/payload"
)

// Outcome 是一次转发的结果分类。
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
)

// Result 描述一次转发。StatusCode 仅对 HTTP 传输有意义，Err 在非 ok 时说明原因。
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// OK 报告引擎是否接受了请求。
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Client 定义了自动化引擎客户端的接口。
type Client interface {
	Dispatch(ctx context.Context, req payload.RelayRequest) Result
	Close() error
}

// NewClient 根据配置中的传输方式创建客户端。
func NewClient(cfg config.Config) (Client, error) {
	switch cfg.Relay.Transport {
	case "", "http":
		return NewHTTPClient(cfg.Relay), nil
	case "kafka":
		if cfg.Kafka.Brokers == "" {
			return nil, errors.New("relay.transport=kafka 需要配置 kafka.brokers")
		}
		return NewKafkaClient(cfg.Kafka, cfg.Relay.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown relay transport %q", cfg.Relay.Transport)
	}
}

type httpClient struct {
	cfg    config.RelayConfig
	client *http.Client
}

// NewHTTPClient 创建一个通过 HTTP POST 转发的客户端，超时由 cfg.Timeout 控制。
func NewHTTPClient(cfg config.RelayConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *httpClient) Dispatch(ctx context.Context, req payload.RelayRequest) Result {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("failed to marshal relay request: %w", err)}
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(reqBytes))
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("failed to create relay request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Secret)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{Outcome: classify(err), Err: fmt.Errorf("failed to call automation engine: %w", err)}
	}
	defer resp.Body.Close()
	// 读掉响应体以便复用连接；内容本身不关心
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Outcome:    OutcomeRejected,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("automation engine returned non-2xx status: %s", resp.Status),
		}
	}
	return Result{Outcome: OutcomeOK, StatusCode: resp.StatusCode}
}

func (c *httpClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// classify 把传输层错误归为 timeout 或 rejected。
func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeRejected
}

// withTimeout 给没有 deadline 的 ctx 加上上限。
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
