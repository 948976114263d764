package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 队列指标
type Metrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	retries   *prometheus.CounterVec
}

// NewMetrics 创建并注册队列指标，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixbridge_tasks_submitted_total",
			Help: "number of background tasks submitted",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixbridge_tasks_finished_total",
			Help: "number of background tasks that reached a terminal status",
		}, []string{"kind", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixbridge_task_retries_total",
			Help: "number of background task retries",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.finished, m.retries)
	}
	return m
}

func (m *Metrics) incSubmitted(kind string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) incFinished(kind string, status Status) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(kind, string(status)).Inc()
}

func (m *Metrics) incRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}
