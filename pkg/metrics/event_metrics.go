package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics 事件监视器指标
type EventMetrics struct {
	Fired *prometheus.CounterVec // 触发的事件处理器次数
}

// NewEventMetrics 创建并注册事件指标
// 标签说明：collector 为采集器名称，event 为处理器名称
func (m *MetricFactory) NewEventMetrics() *EventMetrics {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "events_total",
		Help:      "Event handlers fired by collector post-processing",
	}, []string{"collector", "event"})
	m.reg.MustRegister(c)
	return &EventMetrics{Fired: c}
}

func (em *EventMetrics) Fire(collector, event string) {
	if em == nil {
		return
	}
	em.Fired.WithLabelValues(collector, event).Inc()
}
