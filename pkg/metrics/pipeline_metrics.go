package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueMetrics 汇聚队列指标
type QueueMetrics struct {
	Depth    prometheus.Gauge
	Enqueued prometheus.Counter
	Dropped  prometheus.Counter
}

// NewQueueMetrics 创建并注册汇聚队列指标
func (m *MetricFactory) NewQueueMetrics() *QueueMetrics {
	f := promauto.With(m.reg)
	return &QueueMetrics{
		Depth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Results waiting in the fan-in queue",
		}),
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_enqueued_total",
			Help:      "Results accepted by the fan-in queue",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_dropped_total",
			Help:      "Results dropped by a bounded fan-in queue",
		}),
	}
}

func (qm *QueueMetrics) SetDepth(n int) {
	if qm == nil {
		return
	}
	qm.Depth.Set(float64(n))
}

func (qm *QueueMetrics) Enqueue() {
	if qm == nil {
		return
	}
	qm.Enqueued.Inc()
}

func (qm *QueueMetrics) Drop() {
	if qm == nil {
		return
	}
	qm.Dropped.Inc()
}

// PublishMetrics 上报（drain-aggregate-publish）指标
type PublishMetrics struct {
	Cycles    prometheus.Counter
	Items     prometheus.Counter
	Published *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

// NewPublishMetrics 创建并注册上报指标
// 标签说明：routing_key 为发布目标
func (m *MetricFactory) NewPublishMetrics() *PublishMetrics {
	f := promauto.With(m.reg)
	return &PublishMetrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "drain_cycles_total",
			Help:      "Drain-aggregate-publish cycles run by the reporter",
		}),
		Items: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "aggregated_results_total",
			Help:      "Results drained from the queue into aggregates",
		}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "publish_total",
			Help:      "Batches handed to the broker",
		}, []string{"routing_key"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "publish_errors_total",
			Help:      "Batches dropped because publishing failed",
		}, []string{"routing_key"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one batch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"routing_key"}),
	}
}

// ObserveCycle 记录一次汇聚周期
func (pm *PublishMetrics) ObserveCycle(items int) {
	if pm == nil {
		return
	}
	pm.Cycles.Inc()
	pm.Items.Add(float64(items))
}

// ObservePublish 记录一次发布
func (pm *PublishMetrics) ObservePublish(key string, d time.Duration, err error) {
	if pm == nil {
		return
	}
	pm.Duration.WithLabelValues(key).Observe(d.Seconds())
	if err != nil {
		pm.Errors.WithLabelValues(key).Inc()
		return
	}
	pm.Published.WithLabelValues(key).Inc()
}
