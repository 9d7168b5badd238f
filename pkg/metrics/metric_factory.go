package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace 所有指标的统一前缀
const Namespace = "simstream"

// MetricFactory 指标工厂，用于统一创建指标（counter/gauge/histogram）。
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// NewTestFactory 使用独立注册器的工厂，避免测试之间重复注册
func NewTestFactory() (*MetricFactory, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewMetricFactory(NewPromRegistry(reg)), reg
}
