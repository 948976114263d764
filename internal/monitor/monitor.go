package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pixbridge/internal/gateway"
	"pixbridge/internal/taskqueue"
	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// TaskKind 轮询任务类型
const TaskKind = "monitor"

// StatusFetcher 查询 PIX 收款状态
type StatusFetcher interface {
	GetStatus(ctx context.Context, paymentRef string) (*gateway.ChargeStatus, error)
}

// Scheduler 任务调度（由 taskqueue.Queue 实现）
type Scheduler interface {
	Register(kind string, handler taskqueue.Handler)
	SubmitAfter(kind string, payload []byte, ownerRef string, priority taskqueue.Priority, delay time.Duration) (string, error)
	Cancel(taskID string) bool
	OnFinish(hook taskqueue.FinishHook)
}

// Reporter 监控终态回调（由订单调度器实现）
type Reporter interface {
	PaymentConfirmed(ctx context.Context, orderID, blockchainTxID string)
	PaymentTimedOut(ctx context.Context, orderID, reason string)
	// PaymentWatchAborted 轮询任务被取消或最终失败，监控已无法继续
	PaymentWatchAborted(ctx context.Context, orderID, reason string)
}

// Config 监控配置
type Config struct {
	PollInterval     time.Duration
	MaxWatchDuration time.Duration
}

type watch struct {
	paymentRef   string
	registeredAt time.Time
	taskID       string
}

type pollPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// Monitor 支付监控
// 每个轮询是一个独立任务，下一次轮询通过 SubmitAfter 调度，不长期占用 worker
type Monitor struct {
	cfg      Config
	fetcher  StatusFetcher
	queue    Scheduler
	reporter Reporter
	logger   logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	watches map[string]*watch
}

// Option 可选参数
type Option func(m *Monitor)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New 创建监控并注册轮询任务
func New(cfg Config, fetcher StatusFetcher, queue Scheduler, log logger.Logger, opts ...Option) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxWatchDuration <= 0 {
		cfg.MaxWatchDuration = 2 * time.Hour
	}
	m := &Monitor{
		cfg:     cfg,
		fetcher: fetcher,
		queue:   queue,
		logger:  log,
		now:     time.Now,
		watches: make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	queue.Register(TaskKind, m.poll)
	queue.OnFinish(m.onTaskFinished)
	return m
}

// SetReporter 设置终态回调
func (m *Monitor) SetReporter(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporter = r
}

// Watch 开始监控订单的 PIX 收款，同一订单重复调用无副作用
func (m *Monitor) Watch(ctx context.Context, orderID, paymentRef string) error {
	return m.WatchSince(ctx, orderID, paymentRef, m.now())
}

// WatchSince 以 registeredAt 为起点监控（重启恢复时沿用原始时间，保证总时长上限）
func (m *Monitor) WatchSince(ctx context.Context, orderID, paymentRef string, registeredAt time.Time) error {
	if orderID == "" || paymentRef == "" {
		return errorutil.Validation("order id and payment ref are required")
	}

	payload, _ := json.Marshal(pollPayload{OrderID: orderID, PaymentRef: paymentRef})

	// 提交与记录 taskID 在同一把锁内，取消回调总能对上当前任务
	m.mu.Lock()
	if _, ok := m.watches[orderID]; ok {
		m.mu.Unlock()
		return nil
	}
	w := &watch{paymentRef: paymentRef, registeredAt: registeredAt}
	taskID, err := m.queue.SubmitAfter(TaskKind, payload, orderID, taskqueue.PriorityNormal, 0)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("schedule first poll: %w", err)
	}
	w.taskID = taskID
	m.watches[orderID] = w
	m.mu.Unlock()

	m.logger.Infof(logger.WithOrderID(ctx, orderID), "[Monitor] Watching payment ref=%s", paymentRef)
	return nil
}

// Unwatch 停止监控，取消已调度的轮询
func (m *Monitor) Unwatch(orderID string) bool {
	m.mu.Lock()
	w, ok := m.watches[orderID]
	if ok {
		delete(m.watches, orderID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if w.taskID != "" {
		m.queue.Cancel(w.taskID)
	}
	return true
}

// Active 订单是否在监控中
func (m *Monitor) Active(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[orderID]
	return ok
}

// Count 监控中的订单数
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// poll 单次轮询
func (m *Monitor) poll(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
	var p pollPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errorutil.NonRetriableWithCause(errorutil.KindInternal, "decode poll payload", err)
	}
	ctx = logger.WithOrderID(ctx, p.OrderID)

	w := m.current(p.OrderID, p.PaymentRef)
	if w == nil {
		// 已经停止监控
		return nil, nil
	}

	// 1. 超过最长监控时间
	elapsed := m.now().Sub(w.registeredAt)
	if elapsed >= m.cfg.MaxWatchDuration {
		if m.remove(p.OrderID, w) {
			m.logger.Warnf(ctx, "[Monitor] Payment not confirmed after %v", elapsed)
			m.reportTimeout(ctx, p.OrderID, fmt.Sprintf("payment not confirmed within %v", m.cfg.MaxWatchDuration))
		}
		return nil, nil
	}

	// 2. 查询网关
	status, err := m.fetcher.GetStatus(ctx, p.PaymentRef)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 单次失败不终止监控，等待下一次轮询
		m.logger.Warnf(ctx, "[Monitor] Poll failed: %v", err)
		return nil, m.scheduleNext(ctx, p, w, payload)
	}

	// 3. 已确认
	if status.Confirmed() {
		if m.remove(p.OrderID, w) {
			m.logger.Infof(ctx, "[Monitor] Payment confirmed tx=%s", status.BlockchainTxID)
			m.reportConfirmed(ctx, p.OrderID, status.BlockchainTxID)
		}
		return nil, nil
	}

	// 4. 网关侧已关闭
	if status.Closed() {
		if m.remove(p.OrderID, w) {
			m.logger.Warnf(ctx, "[Monitor] Charge %s by gateway", status.Status)
			m.reportTimeout(ctx, p.OrderID, "charge "+status.Status)
		}
		return nil, nil
	}

	return nil, m.scheduleNext(ctx, p, w, payload)
}

// scheduleNext 调度下一次轮询，延迟不超过剩余监控时间
func (m *Monitor) scheduleNext(ctx context.Context, p pollPayload, w *watch, payload []byte) error {
	delay := m.cfg.PollInterval
	if remaining := w.registeredAt.Add(m.cfg.MaxWatchDuration).Sub(m.now()); remaining < delay {
		delay = remaining
	}
	if delay <= 0 {
		delay = time.Millisecond
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.watches[p.OrderID]; !ok || cur != w {
		// 轮询期间已停止监控
		return nil
	}
	taskID, err := m.queue.SubmitAfter(TaskKind, payload, p.OrderID, taskqueue.PriorityNormal, delay)
	if err != nil {
		// 队列关闭时放弃监控，重启后由 Restore 恢复
		delete(m.watches, p.OrderID)
		m.logger.Errorf(ctx, "[Monitor] Schedule next poll failed: %v", err)
		return errorutil.NonRetriableWithCause(errorutil.KindInternal, "schedule next poll", err)
	}
	w.taskID = taskID
	return nil
}

// onTaskFinished 当前轮询任务被取消或最终失败时结束监控并通知订单
// 队列关闭导致的取消保留监控项，重启后由 Restore 恢复
func (m *Monitor) onTaskFinished(ctx context.Context, task taskqueue.Task, err error) {
	if task.Kind != TaskKind {
		return
	}
	if task.Status != taskqueue.StatusCancelled && task.Status != taskqueue.StatusFailed {
		return
	}
	if errors.Is(err, taskqueue.ErrQueueClosed) {
		return
	}

	m.mu.Lock()
	w, ok := m.watches[task.OwnerRef]
	if !ok || w.taskID != task.ID {
		m.mu.Unlock()
		return
	}
	delete(m.watches, task.OwnerRef)
	r := m.reporter
	m.mu.Unlock()

	reason := "payment watch " + strings.ToLower(string(task.Status))
	if err != nil {
		reason += ": " + err.Error()
	}
	ctx = logger.WithOrderID(ctx, task.OwnerRef)
	m.logger.Warnf(ctx, "[Monitor] Poll task %s ended %s, watch dropped", task.ID, task.Status)
	if r != nil {
		r.PaymentWatchAborted(ctx, task.OwnerRef, reason)
	}
}

// current 返回仍然有效的监控项
func (m *Monitor) current(orderID, paymentRef string) *watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[orderID]
	if !ok || w.paymentRef != paymentRef {
		return nil
	}
	return w
}

// remove 仅当监控项仍是 w 时删除，返回是否由本次调用删除
func (m *Monitor) remove(orderID string, w *watch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.watches[orderID]; ok && cur == w {
		delete(m.watches, orderID)
		return true
	}
	return false
}

func (m *Monitor) reportConfirmed(ctx context.Context, orderID, txID string) {
	m.mu.Lock()
	r := m.reporter
	m.mu.Unlock()
	if r != nil {
		r.PaymentConfirmed(ctx, orderID, txID)
	}
}

func (m *Monitor) reportTimeout(ctx context.Context, orderID, reason string) {
	m.mu.Lock()
	r := m.reporter
	m.mu.Unlock()
	if r != nil {
		r.PaymentTimedOut(ctx, orderID, reason)
	}
}
