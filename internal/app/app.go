package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"pixbridge/internal/dispatcher"
	"pixbridge/internal/gateway"
	"pixbridge/internal/ingress"
	"pixbridge/internal/lnurl"
	"pixbridge/internal/monitor"
	"pixbridge/internal/repo/rporder"
	"pixbridge/internal/server"
	"pixbridge/internal/settlement"
	"pixbridge/internal/taskqueue"
	"pixbridge/pkg/config"
	"pixbridge/pkg/idgen"
	"pixbridge/pkg/infra/mysql"
	infraredis "pixbridge/pkg/infra/redis"
	"pixbridge/pkg/lmstfy"
	"pixbridge/pkg/logger"
)

// App 应用实例，负责组装并管理所有组件的生命周期
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	logger logger.Logger

	registry   *prometheus.Registry
	queue      *taskqueue.Queue
	monitor    *monitor.Monitor
	dispatcher *dispatcher.Dispatcher
	httpServer *http.Server
	workers    []*ingress.Worker

	dao    *mysql.OrderDAO
	pubsub *infraredis.PubSub

	started    *atomic.Bool
	closing    *atomic.Bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New 按配置组装应用
// MySQL / Redis / Lmstfy 未配置时分别退化为内存仓储、无状态通知、仅 HTTP 接入
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		logger:     log,
		registry:   prometheus.NewRegistry(),
		started:    atomic.NewBool(false),
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
	}
	if err := a.build(); err != nil {
		cancel()
		a.closeInfra()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	// 1. 基础设施
	repo, err := a.openRepo()
	if err != nil {
		return err
	}
	if cfg.Redis.Addr != "" {
		ps, err := infraredis.NewPubSub(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.pubsub = ps
	}

	// 2. 任务队列
	a.queue = taskqueue.New(taskqueue.Config{
		Workers:     cfg.Queue.Workers,
		BufferSize:  cfg.Queue.BufferSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	}, a.logger, taskqueue.WithMetrics(taskqueue.NewMetrics(a.registry)))

	// 3. 外部协作方
	pix := gateway.NewPixClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout, a.logger)
	quoter := gateway.NewQuoteClient(cfg.Quote.URL, cfg.Quote.Fiat, cfg.Quote.Timeout, a.logger)
	resolver := lnurl.NewResolver(a.logger, lnurl.WithTimeout(cfg.LNURL.Timeout), lnurl.WithScheme(cfg.LNURL.Scheme))
	executor := settlement.NewExecutor(cfg.Lightning.BaseURL, cfg.Lightning.APIKey, cfg.Lightning.Timeout, a.logger)
	a.monitor = monitor.New(monitor.Config{
		PollInterval:     cfg.Monitor.PollInterval,
		MaxWatchDuration: cfg.Monitor.MaxWatchDuration,
	}, pix, a.queue, a.logger)

	// 4. 提示输出
	var (
		sink   dispatcher.PromptSink = &logSink{logger: a.logger}
		client *lmstfy.Client
	)
	if cfg.Lmstfy.Host != "" {
		client = lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.DeadQueue)
		sink = lmstfy.NewPromptSink(client, cfg.Lmstfy.PromptQueue)
	}

	// 5. 订单调度器
	dcfg, err := dispatcherConfig(cfg)
	if err != nil {
		return err
	}
	mws := []dispatcher.Middleware{
		dispatcher.LoggingMiddleware(a.logger),
		dispatcher.MetricsMiddleware(dispatcher.NewMetrics(a.registry)),
	}
	if a.pubsub != nil {
		mws = append(mws, dispatcher.NotifyMiddleware(a.pubsub, a.logger))
	}
	a.dispatcher = dispatcher.New(dcfg, dispatcher.Deps{
		Gateway:  pix,
		Quoter:   quoter,
		Resolver: resolver,
		Settler:  executor,
		Monitor:  a.monitor,
		Queue:    a.queue,
		Repo:     repo,
		Sink:     sink,
		IDs:      idgen.NewSnowflakeIDGenerator(cfg.App.MachineID),
		Logger:   a.logger,
	}, dispatcher.WithMiddleware(mws...))
	a.monitor.SetReporter(a.dispatcher)

	// 6. 队列接入
	if client != nil {
		a.loadWorkers(client)
	}

	// 7. HTTP
	opts := []server.Option{server.WithWebhookToken(cfg.Gateway.WebhookToken)}
	if a.pubsub != nil {
		opts = append(opts, server.WithWaiter(a.pubsub))
	}
	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := server.NewHandler(a.dispatcher, a.queue, a.logger, opts...)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: server.SetupRoutes(h, a.registry, a.logger),
	}
	return nil
}

// openRepo DSN 为空时使用内存仓储
func (a *App) openRepo() (rporder.OrderRepository, error) {
	if a.cfg.MySQL.DSN == "" {
		a.logger.Warnf(a.ctx, "[App] mysql.dsn not set, orders are kept in memory only")
		return rporder.NewMemoryRepository(), nil
	}
	db, err := mysql.Open(a.cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	a.dao = mysql.NewOrderDAO(db)
	if err := a.dao.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate orders table: %w", err)
	}
	return rporder.NewOrderRepository(a.dao), nil
}

// loadWorkers 按配置创建 lmstfy 事件消费 Worker
func (a *App) loadWorkers(client *lmstfy.Client) {
	cfg := a.cfg.Lmstfy
	subCfg := &ingress.SubscriberConfig{
		QueueName:    cfg.EventQueue,
		Concurrency:  cfg.Threads,
		Timeout:      cfg.Timeout,
		TTR:          cfg.TTR,
		Rate:         cfg.Rate,
		ErrorBackoff: cfg.ErrorBackoff,
	}
	procCfg := &ingress.ProcessorConfig{
		Concurrency: cfg.Workers,
		BufferSize:  cfg.BufferSize,
		Timeout:     cfg.ProcTimeout,
	}
	proc := ingress.GetProcess(a.logger, a.dispatcher)
	worker := ingress.NewWorker(a.ctx, "order_event", subCfg, procCfg, client, client, proc, a.logger)
	a.workers = append(a.workers, worker)
}

func dispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	minAmount, err := decimal.NewFromString(cfg.Order.MinAmount)
	if err != nil {
		return dispatcher.Config{}, fmt.Errorf("order.min_amount invalid: %w", err)
	}
	maxAmount, err := decimal.NewFromString(cfg.Order.MaxAmount)
	if err != nil {
		return dispatcher.Config{}, fmt.Errorf("order.max_amount invalid: %w", err)
	}
	percent, err := decimal.NewFromString(cfg.Order.FeePercent)
	if err != nil {
		return dispatcher.Config{}, fmt.Errorf("order.fee_percent invalid: %w", err)
	}
	fixed, err := decimal.NewFromString(cfg.Order.FeeFixed)
	if err != nil {
		return dispatcher.Config{}, fmt.Errorf("order.fee_fixed invalid: %w", err)
	}
	return dispatcher.Config{
		MinAmount:           minAmount,
		MaxAmount:           maxAmount,
		Fee:                 dispatcher.FlatFee(percent, fixed.Shift(2).IntPart()),
		SettleCheckInterval: cfg.Monitor.PollInterval,
		SettleCheckTimeout:  cfg.Monitor.MaxWatchDuration,
	}, nil
}

// Handler HTTP 处理器（测试用）
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Start 启动所有组件并阻塞直到 Shutdown
func (a *App) Start() error {
	a.logger.Infof(a.ctx, "[App] Starting...")

	// 1. 任务队列（恢复订单会提交任务）
	a.queue.Start()

	// 2. 恢复未完成订单
	n, err := a.dispatcher.Restore(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to restore orders: %w", err)
	}
	a.logger.Infof(a.ctx, "[App] Restored %d active orders", n)

	// 3. HTTP Server
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Infof(a.ctx, "[App] HTTP server listening on %s", ln.Addr())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf(a.ctx, "[App] HTTP server error: %v", err)
		}
	}()

	// 4. 队列接入 Worker
	for _, w := range a.workers {
		w.Start()
		a.logger.Infof(a.ctx, "[App] Worker started: %s", w.Name())
	}

	a.started.Store(true)
	a.logger.Infof(a.ctx, "[App] Start success")

	// 5. 阻塞等待退出信号
	<-a.shutdownCh
	return nil
}

// Shutdown 优雅退出：先停接入，再停任务队列，最后关闭基础设施
func (a *App) Shutdown() {
	a.logger.Infof(a.ctx, "[App] Began to close")

	if !a.closing.CAS(false, true) {
		return
	}

	// 1. 停止 Worker，不再接收新事件
	for _, w := range a.workers {
		a.logger.Infof(a.ctx, "[App] Shutting down worker: %s", w.Name())
		w.Shutdown()
	}

	// 2. 停止 HTTP Server
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warnf(a.ctx, "[App] HTTP server shutdown error: %v", err)
	}
	a.wg.Wait()

	// 3. 停止任务队列（运行中的任务收到取消信号）
	a.queue.Shutdown()

	// 4. 关闭基础设施
	a.cancel()
	a.closeInfra()

	close(a.shutdownCh)
	a.logger.Infof(a.ctx, "[App] Shutdown complete")
}

func (a *App) closeInfra() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warnf(a.ctx, "[App] close redis failed: %v", err)
		}
	}
	if a.dao != nil {
		if err := a.dao.Close(); err != nil {
			a.logger.Warnf(a.ctx, "[App] close mysql failed: %v", err)
		}
	}
}

// logSink 未配置 lmstfy 时只记录提示，客户端通过 HTTP 轮询订单
type logSink struct {
	logger logger.Logger
}

func (s *logSink) Emit(ctx context.Context, p dispatcher.Prompt) error {
	s.logger.Infof(logger.WithOrderID(ctx, p.OrderID), "[Prompt] %s %v", p.Kind, p.Data)
	return nil
}
