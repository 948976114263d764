package ingress

import (
	"context"

	"pixbridge/pkg/logger"
)

// Worker 订阅者 + 处理器组合
type Worker struct {
	ctx        context.Context
	name       string
	subscriber *Subscriber
	processor  *Processor
	inputChan  chan *Message
	logger     logger.Logger
}

// NewWorker 创建 Worker
func NewWorker(
	ctx context.Context,
	name string,
	subscriberCfg *SubscriberConfig,
	processorCfg *ProcessorConfig,
	source MessageSource,
	dead DeadLetter,
	proc Proc,
	log logger.Logger,
) *Worker {
	return &Worker{
		ctx:        ctx,
		name:       name,
		subscriber: NewSubscriber(subscriberCfg, source, log),
		processor:  NewProcessor(processorCfg, proc, source, dead, log),
		inputChan:  make(chan *Message, processorCfg.BufferSize),
		logger:     log,
	}
}

// Start 启动 Worker（非阻塞）
func (w *Worker) Start() {
	w.logger.Infof(w.ctx, "[Worker] %s started", w.name)

	// 先启动 Processor，再开始拉取
	w.processor.Start(w.ctx, w.inputChan)
	w.subscriber.Start(w.ctx, w.inputChan)
}

// Shutdown 优雅退出
func (w *Worker) Shutdown() {
	w.logger.Infof(w.ctx, "[Worker] %s began to close", w.name)

	// 【第 1 步】停止拉取新消息
	w.subscriber.Stop()

	// 【第 2 步】等待 Subscriber 完全退出
	w.subscriber.Wait()

	// 【第 3 步】通知 Processor 进入 Drain 模式
	w.processor.SignalShutdown()

	// 【第 4 步】等待 Processor 处理完剩余消息
	w.processor.Wait()

	w.logger.Infof(w.ctx, "[Worker] %s shutdown complete", w.name)
}

// Name 获取 Worker 名称
func (w *Worker) Name() string {
	return w.name
}
