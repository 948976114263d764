package lmstfy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"

	"pixbridge/internal/dispatcher"
	"pixbridge/internal/ingress"
)

const (
	defaultTTL   = 24 * time.Hour
	defaultTries = 3
)

// Client Lmstfy 客户端封装
type Client struct {
	cli       *client.LmstfyClient
	namespace string
	deadQueue string
}

// NewClient 创建 Lmstfy 客户端
func NewClient(host string, port int, namespace, token, deadQueue string) *Client {
	return &Client{
		cli:       client.NewLmstfyClient(host, port, namespace, token),
		namespace: namespace,
		deadQueue: deadQueue,
	}
}

// Consume 消费消息（实现 MessageSource 接口）
func (c *Client) Consume(queue string, timeout time.Duration, ttr time.Duration) (*ingress.Message, error) {
	job, err := c.cli.Consume(queue, uint32(ttr.Seconds()), uint32(timeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}

	// 超时未拉到消息
	if job == nil {
		return nil, nil
	}

	return &ingress.Message{
		ID:    job.ID,
		Queue: job.Queue,
		Data:  job.Data,
	}, nil
}

// Ack 确认消息（实现 MessageSource 接口）
func (c *Client) Ack(queue string, jobID string) error {
	if err := c.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}

// Bury 转存到死信队列（实现 DeadLetter 接口），未配置死信队列时直接丢弃
func (c *Client) Bury(msg *ingress.Message) error {
	if c.deadQueue == "" {
		return nil
	}
	return c.Publish(c.deadQueue, msg.Data, defaultTTL, 0)
}

// Publish 发布消息
func (c *Client) Publish(queue string, data []byte, ttl, delay time.Duration) error {
	_, err := c.cli.Publish(queue, data, uint32(ttl.Seconds()), defaultTries, uint32(delay.Seconds()))
	if err != nil {
		return fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return nil
}

// PromptSink 将提示发布到聊天层队列（实现 dispatcher.PromptSink）
type PromptSink struct {
	client *Client
	queue  string
}

// NewPromptSink 创建提示发布器
func NewPromptSink(c *Client, queue string) *PromptSink {
	return &PromptSink{client: c, queue: queue}
}

// Emit 发布提示
func (s *PromptSink) Emit(ctx context.Context, p dispatcher.Prompt) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prompt failed: %w", err)
	}
	return s.client.Publish(s.queue, data, defaultTTL, 0)
}
