package taskqueue

import (
	"context"
	"fmt"
	"time"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// loop 处理循环（单个 Worker）
func (q *Queue) loop(workerID int) {
	defer q.wg.Done()
	ctx := logger.WithWorkerID(q.ctx, workerID)
	q.logger.Debugf(ctx, "[TaskQueue-%d] Started", workerID)

	for {
		// 高优先级优先
		select {
		case rec := <-q.high:
			q.process(ctx, rec)
			continue
		default:
		}

		select {
		case rec := <-q.high:
			q.process(ctx, rec)

		case rec := <-q.normal:
			q.process(ctx, rec)

		// Drain 模式：处理完剩余任务再退出
		case <-q.shutdownCh:
			q.logger.Infof(ctx, "[TaskQueue-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case rec := <-q.high:
					q.process(ctx, rec)
					count++
				case rec := <-q.normal:
					q.process(ctx, rec)
					count++
				default:
					q.logger.Infof(ctx, "[TaskQueue-%d] Drained %d tasks, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 执行单个任务
func (q *Queue) process(workerCtx context.Context, rec *record) {
	if rec == nil {
		return
	}

	// 1. 标记 Running
	q.mu.Lock()
	if rec.task.Status != StatusPending {
		// 已被取消
		q.mu.Unlock()
		return
	}
	handler, ok := q.handlers[rec.task.Kind]
	taskCtx, cancel := context.WithCancel(workerCtx)
	defer cancel()
	rec.task.Status = StatusRunning
	rec.task.StartedAt = q.now()
	rec.cancelFn = cancel
	task := rec.task
	q.mu.Unlock()

	taskCtx = logger.WithTask(taskCtx, task.ID, task.Kind)
	startTime := time.Now()
	q.logger.Debugf(taskCtx, "[TaskQueue] Running task kind=%s owner=%s attempts=%d", task.Kind, task.OwnerRef, task.Attempts)

	// 2. 调用 handler（捕获 panic）
	var (
		result []byte
		err    error
	)
	if !ok {
		err = errorutil.NonRetriable(errorutil.KindInternal, fmt.Sprintf("no handler for kind %s", task.Kind))
	} else {
		result, err = q.invoke(taskCtx, handler, task)
	}

	// 3. 根据结果决定终态或重试
	q.mu.Lock()
	var (
		terminal bool
		delay    time.Duration
	)
	switch {
	case rec.cancelled.Load():
		q.finalizeLocked(rec, StatusCancelled, result, err)
		terminal = true

	case err == nil:
		q.finalizeLocked(rec, StatusDone, result, nil)
		terminal = true

	default:
		rec.task.Attempts++
		rec.task.Error = err.Error()
		rec.task.ErrorKind = string(errorutil.KindOf(err))
		rec.lastErr = err
		retryable := errorutil.IsRetryable(err) && rec.task.Attempts < rec.task.MaxAttempts
		switch {
		case retryable && q.closing.Load():
			// 关闭期间不再重试，hook 通过 ErrQueueClosed 区分主动取消
			q.finalizeLocked(rec, StatusCancelled, nil, fmt.Errorf("%w: %w", ErrQueueClosed, err))
			terminal = true
		case retryable:
			rec.task.Status = StatusPending
			rec.cancelFn = nil
			delay = q.backoff(rec.task.Attempts)
			rec.timer = time.AfterFunc(delay, func() { q.enqueue(rec) })
		default:
			q.finalizeLocked(rec, StatusFailed, nil, err)
			terminal = true
		}
	}
	snapshot := rec.task
	lastErr := rec.lastErr
	var hooks []FinishHook
	if terminal {
		hooks = q.hooksLocked()
	}
	q.mu.Unlock()

	duration := time.Since(startTime)
	if terminal {
		q.logger.Infof(taskCtx, "[TaskQueue] Task finished: status=%s attempts=%d duration=%v", snapshot.Status, snapshot.Attempts, duration)
		q.runHooks(snapshot, lastErr, hooks)
		return
	}

	q.metrics.incRetry(snapshot.Kind)
	q.logger.Warnf(taskCtx, "[TaskQueue] Task failed (attempt %d/%d), retry in %v: %v",
		snapshot.Attempts, snapshot.MaxAttempts, delay, err)
}

// invoke 调用 handler，panic 视为不可重试错误
func (q *Queue) invoke(ctx context.Context, handler Handler, task Task) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorf(ctx, "[TaskQueue] handler panic: %v", r)
			result = nil
			err = errorutil.NonRetriable(errorutil.KindInternal, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return handler(ctx, task.Payload, task.OwnerRef)
}
