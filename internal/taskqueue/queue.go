package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// Config 队列配置
type Config struct {
	Workers     int           // 固定 worker 数
	BufferSize  int           // 每个优先级通道的容量
	MaxAttempts int           // 最大失败次数
	BackoffBase time.Duration // 退避基数
	BackoffCap  time.Duration // 退避上限
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Workers:     3,
		BufferSize:  256,
		MaxAttempts: 5,
		BackoffBase: time.Second,
		BackoffCap:  60 * time.Second,
	}
}

// Queue 有界任务队列 + 固定 worker 池
type Queue struct {
	cfg     Config
	logger  logger.Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	tasks    map[string]*record
	hooks    []FinishHook

	high   chan *record
	normal chan *record

	ctx        context.Context
	cancel     context.CancelFunc
	started    *atomic.Bool
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// Option 可选参数
type Option func(q *Queue)

// WithMetrics 注入指标
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New 创建队列
func New(cfg Config, log logger.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		handlers:   make(map[string]Handler),
		tasks:      make(map[string]*record),
		high:       make(chan *record, cfg.BufferSize),
		normal:     make(chan *record, cfg.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		started:    atomic.NewBool(false),
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register 注册任务处理函数
func (q *Queue) Register(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// OnFinish 注册终态回调
func (q *Queue) OnFinish(hook FinishHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks = append(q.hooks, hook)
}

// Submit 提交任务，立即可执行
func (q *Queue) Submit(kind string, payload []byte, ownerRef string, priority Priority) (string, error) {
	return q.SubmitAfter(kind, payload, ownerRef, priority, 0)
}

// SubmitAfter 提交任务，delay 之后才可执行
func (q *Queue) SubmitAfter(kind string, payload []byte, ownerRef string, priority Priority, delay time.Duration) (string, error) {
	if q.closing.Load() {
		return "", ErrQueueClosed
	}

	q.mu.Lock()
	if _, ok := q.handlers[kind]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	rec := newRecord(Task{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     payload,
		OwnerRef:    ownerRef,
		Priority:    priority,
		Status:      StatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
		CreatedAt:   q.now(),
	})

	if delay > 0 {
		q.tasks[rec.task.ID] = rec
		rec.timer = time.AfterFunc(delay, func() { q.enqueue(rec) })
		q.mu.Unlock()
		q.metrics.incSubmitted(kind)
		return rec.task.ID, nil
	}

	if !q.tryEnqueue(rec) {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	q.tasks[rec.task.ID] = rec
	q.mu.Unlock()

	q.metrics.incSubmitted(kind)
	q.logger.Debugf(q.ctx, "[TaskQueue] Submitted task %s kind=%s owner=%s", rec.task.ID, kind, ownerRef)
	return rec.task.ID, nil
}

// Status 查询任务快照
func (q *Queue) Status(taskID string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return rec.task, nil
}

// Cancel 取消任务，仅 Pending/Running 状态返回 true
// Pending 任务立即进入 Cancelled；Running 任务设置标记，由 handler 在下一个安全点观察到
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	rec, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}

	switch rec.task.Status {
	case StatusPending:
		rec.cancelled.Store(true)
		if rec.timer != nil {
			rec.timer.Stop()
		}
		q.finalizeLocked(rec, StatusCancelled, nil, nil)
		hooks := q.hooksLocked()
		snapshot := rec.task
		q.mu.Unlock()
		q.runHooks(snapshot, nil, hooks)
		return true

	case StatusRunning:
		rec.cancelled.Store(true)
		if rec.cancelFn != nil {
			rec.cancelFn()
		}
		q.mu.Unlock()
		return true
	}

	q.mu.Unlock()
	return false
}

// Start 启动 worker
func (q *Queue) Start() {
	if !q.started.CAS(false, true) {
		return
	}

	q.logger.Infof(q.ctx, "[TaskQueue] Starting with %d workers", q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.loop(i)
	}
}

// Shutdown 优雅退出：停止接收新任务，处理完通道内剩余任务，取消延迟任务
func (q *Queue) Shutdown() {
	if !q.closing.CAS(false, true) {
		return
	}
	q.logger.Infof(q.ctx, "[TaskQueue] Began to close")

	// 1. 通知 worker 进入 Drain 模式
	close(q.shutdownCh)

	// 2. 等待 worker 退出
	q.wg.Wait()

	// 3. 取消基础 Context，阻止延迟任务入队
	q.cancel()

	// 4. 未执行的任务全部标记为 Cancelled
	q.mu.Lock()
	var leftovers []*record
	for _, rec := range q.tasks {
		if rec.task.Status == StatusPending {
			if rec.timer != nil {
				rec.timer.Stop()
			}
			q.finalizeLocked(rec, StatusCancelled, nil, ErrQueueClosed)
			leftovers = append(leftovers, rec)
		}
	}
	hooks := q.hooksLocked()
	q.mu.Unlock()

	for _, rec := range leftovers {
		q.runHooks(rec.task, ErrQueueClosed, hooks)
	}

	q.logger.Infof(context.Background(), "[TaskQueue] Shutdown complete, cancelled %d pending tasks", len(leftovers))
}

// tryEnqueue 非阻塞入队（调用方持有锁）
func (q *Queue) tryEnqueue(rec *record) bool {
	ch := q.normal
	if rec.task.Priority >= PriorityHigh {
		ch = q.high
	}
	select {
	case ch <- rec:
		return true
	default:
		return false
	}
}

// enqueue 阻塞入队（用于延迟任务和重试）
func (q *Queue) enqueue(rec *record) {
	q.mu.Lock()
	if rec.task.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	rec.timer = nil
	q.mu.Unlock()

	if q.closing.Load() {
		q.cancelPending(rec, ErrQueueClosed)
		return
	}

	ch := q.normal
	if rec.task.Priority >= PriorityHigh {
		ch = q.high
	}
	select {
	case ch <- rec:
	case <-q.ctx.Done():
		q.cancelPending(rec, ErrQueueClosed)
	}
}

func (q *Queue) cancelPending(rec *record, cause error) {
	q.mu.Lock()
	if rec.task.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	q.finalizeLocked(rec, StatusCancelled, nil, cause)
	hooks := q.hooksLocked()
	snapshot := rec.task
	q.mu.Unlock()
	q.runHooks(snapshot, cause, hooks)
}

// finalizeLocked 任务进入终态（调用方持有锁）
func (q *Queue) finalizeLocked(rec *record, status Status, result []byte, err error) {
	rec.task.Status = status
	rec.task.FinishedAt = q.now()
	rec.task.Result = result
	rec.lastErr = err
	rec.cancelFn = nil
	if err != nil {
		rec.task.Error = err.Error()
		rec.task.ErrorKind = string(errorutil.KindOf(err))
	} else {
		rec.task.Error = ""
		rec.task.ErrorKind = ""
	}
	q.metrics.incFinished(rec.task.Kind, status)
}

func (q *Queue) hooksLocked() []FinishHook {
	hooks := make([]FinishHook, len(q.hooks))
	copy(hooks, q.hooks)
	return hooks
}

func (q *Queue) runHooks(task Task, err error, hooks []FinishHook) {
	ctx := logger.WithTask(context.Background(), task.ID, task.Kind)
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Errorf(ctx, "[TaskQueue] finish hook panic: %v", r)
				}
			}()
			hook(ctx, task, err)
		}()
	}
}

// backoff 计算第 attempts 次失败后的退避时间：min(base*2^attempts, cap)
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	return d
}
