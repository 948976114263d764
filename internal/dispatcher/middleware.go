package dispatcher

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pixbridge/pkg/logger"
)

// ApplyFunc 事件应用函数
type ApplyFunc func(ctx context.Context, ev Event) Outcome

// Middleware 包装事件应用，按注册顺序由外到内执行
type Middleware func(next ApplyFunc) ApplyFunc

// chain 组装中间件
func chain(core ApplyFunc, mws ...Middleware) ApplyFunc {
	h := core
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LoggingMiddleware 记录每次事件应用及其结果
func LoggingMiddleware(log logger.Logger) Middleware {
	return func(next ApplyFunc) ApplyFunc {
		return func(ctx context.Context, ev Event) Outcome {
			ctx = logger.WithOrderID(ctx, ev.OrderID)
			start := time.Now()
			out := next(ctx, ev)

			status := ""
			if out.Order != nil {
				status = string(out.Order.Status)
			}
			switch {
			case out.Rejected:
				log.Warnf(ctx, "[Dispatcher] %s rejected (source=%s status=%s): %v", ev.Type, ev.Source, status, out.Err)
			case out.Duplicate:
				log.Infof(ctx, "[Dispatcher] %s duplicate, ignored (status=%s)", ev.Type, status)
			default:
				log.Infof(ctx, "[Dispatcher] %s applied -> %s in %v", ev.Type, status, time.Since(start))
			}
			return out
		}
	}
}

// Metrics 调度器指标
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics 创建并注册调度器指标，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixbridge_order_events_total",
			Help: "number of order events by type and result",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixbridge_order_event_duration_seconds",
			Help:    "time spent applying an order event",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.duration)
	}
	return m
}

// MetricsMiddleware 统计事件结果与耗时
func MetricsMiddleware(m *Metrics) Middleware {
	return func(next ApplyFunc) ApplyFunc {
		return func(ctx context.Context, ev Event) Outcome {
			start := time.Now()
			out := next(ctx, ev)
			m.duration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
			m.events.WithLabelValues(string(ev.Type), out.Result()).Inc()
			return out
		}
	}
}

// Notifier 订单状态变更通知（Redis 发布等）
type Notifier interface {
	NotifyStatus(ctx context.Context, orderID, status, event string) error
}

// NotifyMiddleware 事件成功应用后发送状态通知，通知失败只记录日志
func NotifyMiddleware(n Notifier, log logger.Logger) Middleware {
	return func(next ApplyFunc) ApplyFunc {
		return func(ctx context.Context, ev Event) Outcome {
			out := next(ctx, ev)
			if out.Applied && out.Order != nil {
				if err := n.NotifyStatus(ctx, out.Order.ID, string(out.Order.Status), string(ev.Type)); err != nil {
					log.Warnf(ctx, "[Dispatcher] notify status failed: %v", err)
				}
			}
			return out
		}
	}
}
