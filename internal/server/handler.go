package server

import (
	"context"
	"time"

	"pixbridge/internal/dispatcher"
	"pixbridge/internal/entity/etorder"
	"pixbridge/internal/taskqueue"
	infraredis "pixbridge/pkg/infra/redis"
	"pixbridge/pkg/logger"
)

// maxWait Smart Wait 最长等待
const maxWait = 30 * time.Second

// OrderService 订单调度
type OrderService interface {
	Start(ctx context.Context, chatRef string) dispatcher.Outcome
	Apply(ctx context.Context, ev dispatcher.Event) dispatcher.Outcome
	Lookup(ctx context.Context, orderID string) (*etorder.Order, error)
	ConfirmByPaymentRef(ctx context.Context, paymentRef, blockchainTxID string) dispatcher.Outcome
}

// TaskService 后台任务查询 / 取消
type TaskService interface {
	Status(taskID string) (taskqueue.Task, error)
	Cancel(taskID string) bool
}

// StatusWaiter 订单状态变更等待（Redis 订阅）
type StatusWaiter interface {
	WaitStatus(ctx context.Context, orderID string, timeout time.Duration, changed func() bool) (*infraredis.StatusNotification, error)
}

// Handler HTTP 处理器
type Handler struct {
	orders       OrderService
	tasks        TaskService
	waiter       StatusWaiter
	webhookToken string
	logger       logger.Logger
}

// Option 可选参数
type Option func(h *Handler)

// WithWaiter 开启 Smart Wait
func WithWaiter(w StatusWaiter) Option {
	return func(h *Handler) { h.waiter = w }
}

// WithWebhookToken 网关回调校验令牌
func WithWebhookToken(token string) Option {
	return func(h *Handler) { h.webhookToken = token }
}

// NewHandler 创建处理器
func NewHandler(orders OrderService, tasks TaskService, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{orders: orders, tasks: tasks, logger: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
