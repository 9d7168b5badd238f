package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CollectorMetrics 采集器指标集合，所有方法允许 nil 接收者（未启用指标时为空操作）
type CollectorMetrics struct {
	Collects *prometheus.CounterVec   // 成功采集次数
	Errors   *prometheus.CounterVec   // 采集失败次数（回调或后处理失败）
	Duration *prometheus.HistogramVec // 单次采集耗时
	Timeouts *prometheus.CounterVec   // 停止超时被强制标记为 inactive 的次数
	Buffered *prometheus.GaugeVec     // 环形缓冲区当前长度
}

// NewCollectorMetrics 创建并注册采集器指标
// 标签说明：collector 为采集器名称
func (m *MetricFactory) NewCollectorMetrics() *CollectorMetrics {
	f := promauto.With(m.reg)
	return &CollectorMetrics{
		Collects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "collect_total",
			Help:      "Total successful collection cycles",
		}, []string{"collector"}),
		Errors:   m.NewAgentCollectErrorsTotal(),
		Duration: m.NewAgentCollectDurationSeconds(),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "collector_stop_timeouts_total",
			Help:      "Collectors force-marked inactive after the stop grace period",
		}, []string{"collector"}),
		Buffered: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "collector_buffered_results",
			Help:      "Results currently held in the collector history buffer",
		}, []string{"collector"}),
	}
}

// NewAgentCollectErrorsTotal 创建「采集器错误总数」指标
// 指标类型：Counter，统计各采集器回调/后处理失败的累计次数
func (m *MetricFactory) NewAgentCollectErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "collect_errors_total",
		Help:      "Total collection errors",
	}, []string{"collector"})
	m.reg.MustRegister(c)
	return c
}

// NewAgentCollectDurationSeconds 创建「采集器采集耗时分布」指标
// 使用 Prometheus 默认分桶，覆盖毫秒级到秒级的采集耗时
func (m *MetricFactory) NewAgentCollectDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "collect_duration_seconds",
		Help:      "Collection duration per collector",
		Buckets:   prometheus.DefBuckets,
	}, []string{"collector"})
	m.reg.MustRegister(h)
	return h
}

// ObserveCollect 记录一次采集结果
func (cm *CollectorMetrics) ObserveCollect(name string, d time.Duration, err error) {
	if cm == nil {
		return
	}
	cm.Duration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		cm.Errors.WithLabelValues(name).Inc()
		return
	}
	cm.Collects.WithLabelValues(name).Inc()
}

// SetBuffered 更新缓冲区长度
func (cm *CollectorMetrics) SetBuffered(name string, n int) {
	if cm == nil {
		return
	}
	cm.Buffered.WithLabelValues(name).Set(float64(n))
}

// ShutdownTimeout 记录一次停止超时
func (cm *CollectorMetrics) ShutdownTimeout(name string) {
	if cm == nil {
		return
	}
	cm.Timeouts.WithLabelValues(name).Inc()
}

// Forget 删除已注销采集器的标签序列
func (cm *CollectorMetrics) Forget(name string) {
	if cm == nil {
		return
	}
	cm.Collects.DeleteLabelValues(name)
	cm.Errors.DeleteLabelValues(name)
	cm.Duration.DeleteLabelValues(name)
	cm.Buffered.DeleteLabelValues(name)
}
