package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PubSub Redis 发布/订阅客户端
type PubSub struct {
	client redis.UniversalClient
	prefix string
}

// NewPubSub 创建 PubSub 实例并测试连接
func NewPubSub(addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewPubSubWithClient(client), nil
}

// NewPubSubWithClient 使用已有客户端创建 PubSub
func NewPubSubWithClient(client redis.UniversalClient) *PubSub {
	return &PubSub{client: client, prefix: "pixbridge:order:"}
}

// StatusNotification 订单状态变更通知
type StatusNotification struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

// Channel 订单状态频道
func (p *PubSub) Channel(orderID string) string {
	return p.prefix + orderID
}

// PublishStatus 发布订单状态变更
func (p *PubSub) PublishStatus(ctx context.Context, n *StatusNotification) error {
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(n.OrderID), msg).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// WaitStatus 订阅订单频道并等待下一条状态通知（Smart Wait）
// 订阅确认后调用 changed，返回 true 表示订阅前状态已变化，此时不再等待并返回 nil 通知
// 超时返回 context.DeadlineExceeded
func (p *PubSub) WaitStatus(ctx context.Context, orderID string, timeout time.Duration, changed func() bool) (*StatusNotification, error) {
	sub := p.client.Subscribe(ctx, p.Channel(orderID))
	defer sub.Close()

	// 确认订阅建立后再等待，避免丢失订阅前的消息
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if changed != nil && changed() {
		return nil, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, fmt.Errorf("subscription closed")
		}
		var n StatusNotification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			return nil, fmt.Errorf("failed to decode notification: %w", err)
		}
		return &n, nil
	case <-timeoutCtx.Done():
		return nil, timeoutCtx.Err()
	}
}

// Close 关闭 Redis 连接
func (p *PubSub) Close() error {
	return p.client.Close()
}

// NotifyStatus 发布订单状态变更（订单调度器通知中间件使用）
func (p *PubSub) NotifyStatus(ctx context.Context, orderID, status, event string) error {
	return p.PublishStatus(ctx, &StatusNotification{
		OrderID:   orderID,
		Status:    status,
		Event:     event,
		Timestamp: time.Now().Unix(),
	})
}
