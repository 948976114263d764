package ingress

import (
	"context"
	"sync"
	"time"

	"pixbridge/pkg/logger"
)

// Subscriber 订阅者：从消息队列拉取消息，转发给 Processor
type Subscriber struct {
	cfg        *SubscriberConfig
	source     MessageSource
	logger     logger.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg *SubscriberConfig, source MessageSource, log logger.Logger) *Subscriber {
	return &Subscriber{
		cfg:    cfg,
		source: source,
		logger: log,
	}
}

// Start 启动订阅循环
func (s *Subscriber) Start(parentCtx context.Context, inputChan chan<- *Message) {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel

	s.logger.Infof(ctx, "[Subscriber] Starting with %d workers for queue: %s",
		s.cfg.Concurrency, s.cfg.QueueName)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.loop(logger.WithWorkerID(ctx, i), i, inputChan)
	}
}

// Stop 停止订阅（不再拉取新消息）
func (s *Subscriber) Stop() {
	s.logger.Infof(context.Background(), "[Subscriber] Stopping...")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Wait 等待所有订阅协程退出
func (s *Subscriber) Wait() {
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Subscriber] All workers exited")
}

// loop 订阅循环（单个 Worker）
// 连续拉取失败只在第一次和恢复时记录，避免队列不可用时刷屏
func (s *Subscriber) loop(ctx context.Context, workerID int, inputChan chan<- *Message) {
	defer s.wg.Done()
	s.logger.Debugf(ctx, "[Subscriber-%d] Started", workerID)

	rate := s.cfg.Rate
	if rate <= 0 {
		rate = time.Millisecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	failures := 0
	for {
		// 1. 拉取消息（带超时）
		msg, err := s.source.Consume(s.cfg.QueueName, s.cfg.Timeout, s.cfg.TTR)
		if err != nil {
			if failures == 0 {
				s.logger.Warnf(ctx, "[Subscriber-%d] Consume error: %v, backing off", workerID, err)
			}
			failures++
			if !sleepCtx(ctx, s.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		if failures > 0 {
			s.logger.Infof(ctx, "[Subscriber-%d] Consume recovered after %d failures", workerID, failures)
			failures = 0
		}

		// 2. 发送给 Processor，退出时未交付的消息不 ACK，TTR 到期后重新投递
		if msg != nil {
			select {
			case inputChan <- msg:
				s.logger.Debugf(ctx, "[Subscriber-%d] Message sent: %s", workerID, msg.ID)
			case <-ctx.Done():
				s.logger.Warnf(ctx, "[Subscriber-%d] Dropping message due to shutdown: %s", workerID, msg.ID)
				return
			}
		}

		// 3. 速率控制 + 退出检查
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleepCtx 等待 d，ctx 取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
