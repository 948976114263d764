package ingress

import (
	"context"
	"sync"
	"time"

	"pixbridge/pkg/logger"
)

// Proc 业务处理函数
type Proc func(ctx context.Context, msg *Message) *JobResp

// Processor 处理器：接收消息，调用业务处理函数，按结果 ACK / Release / Bury
type Processor struct {
	cfg        *ProcessorConfig
	proc       Proc
	source     MessageSource
	dead       DeadLetter
	logger     logger.Logger
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器，dead 为 nil 时 Bury 只 ACK
func NewProcessor(cfg *ProcessorConfig, proc Proc, source MessageSource, dead DeadLetter, log logger.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		proc:       proc,
		source:     source,
		dead:       dead,
		logger:     log,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i, inputChan)
	}
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()

	for {
		select {
		// A. 正常业务处理
		case msg := <-inputChan:
			p.process(ctx, msg, workerID)

		// B. Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.process(ctx, msg, workerID)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个消息
func (p *Processor) process(ctx context.Context, msg *Message, workerID int) {
	if msg == nil {
		return
	}
	startTime := time.Now()

	// 1. 超时控制 + 元信息
	procCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	procCtx = logger.WithWorkerID(procCtx, workerID)

	// 2. 调用业务处理函数
	resp := p.proc(procCtx, msg)

	// 3. 根据结果确认消息
	switch resp.Action {
	case ActionSuccess:
		p.ack(procCtx, msg)
	case ActionBury:
		if p.dead != nil {
			if err := p.dead.Bury(msg); err != nil {
				p.logger.Errorf(procCtx, "[Processor-%d] Bury %s failed, leaving for redelivery: %v", workerID, msg.ID, err)
				return
			}
		}
		p.ack(procCtx, msg)
	case ActionRelease:
		// 不 ACK，TTR 到期后由队列重新投递
	}

	p.logger.Infof(procCtx, "[Processor-%d] Message processed: %s, action: %s, duration: %v",
		workerID, msg.ID, resp.Action, time.Since(startTime))
}

func (p *Processor) ack(ctx context.Context, msg *Message) {
	if err := p.source.Ack(msg.Queue, msg.ID); err != nil {
		p.logger.Warnf(ctx, "[Processor] Ack %s failed: %v", msg.ID, err)
	}
}
