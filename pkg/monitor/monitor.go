// Package monitor 提供事件监视后处理器：按检查函数的结果触发命名处理器，结果原样透传。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/measure"
	"github.com/simstream/pkg/metrics"
)

// ErrHandlerNotFound 检查函数返回了未注册的处理器名称
var ErrHandlerNotFound = errors.New("event handler not found")

// 内置边界检查产生的事件名
const (
	EventBelow = "below"
	EventAbove = "above"
)

// Check 检查一次结果，返回需要触发的处理器名称
type Check func(v any) ([]string, error)

// Handler 事件处理器
type Handler func(ctx context.Context, v any) error

// EventMonitor 实现 collector.PostProcessor
type EventMonitor struct {
	check Check

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New 创建事件监视器，check 不能为空
func New(check Check, handlers map[string]Handler) (*EventMonitor, error) {
	if check == nil {
		return nil, errdefs.Configurationf("new_event_monitor", "event check is nil")
	}
	m := &EventMonitor{check: check, handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if err := m.AddHandler(name, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddHandler 注册或替换处理器
func (m *EventMonitor) AddHandler(name string, h Handler) error {
	if name == "" || h == nil {
		return errdefs.Configurationf("add_event_handler", "handler %q is empty", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
	return nil
}

// RemoveHandler 删除处理器，不存在时无操作
func (m *EventMonitor) RemoveHandler(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, name)
}

// Handlers 已注册的处理器名称（排序）
func (m *EventMonitor) Handlers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply 运行检查并依次触发处理器；任何名称未注册时不触发任何处理器
func (m *EventMonitor) Apply(ctx context.Context, v any) (any, error) {
	names, err := m.check(v)
	if err != nil {
		return nil, fmt.Errorf("event check: %w", err)
	}
	if len(names) == 0 {
		return v, nil
	}

	m.mu.RLock()
	fire := make([]Handler, 0, len(names))
	for _, name := range names {
		h, ok := m.handlers[name]
		if !ok {
			m.mu.RUnlock()
			return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
		}
		fire = append(fire, h)
	}
	m.mu.RUnlock()

	var errs error
	for i, h := range fire {
		if err := h(ctx, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("handler %q: %w", names[i], err))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return v, nil
}

// Bounds 数值越界检查，field 为空时检查结果本身；lo/hi 可用 ±Inf 表示不限
func Bounds(field string, lo, hi float64) (Check, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return nil, errdefs.Configurationf("bounds", "invalid range [%v, %v]", lo, hi)
	}
	return func(v any) ([]string, error) {
		raw := v
		if field != "" {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("bounds %q: result is %T, want map", field, v)
			}
			if raw, ok = m[field]; !ok {
				return nil, fmt.Errorf("bounds %q: field missing", field)
			}
		}
		x, ok := measure.ToFloat(raw)
		if !ok {
			return nil, fmt.Errorf("bounds %q: value %T is not numeric", field, raw)
		}
		switch {
		case x < lo:
			return []string{EventBelow}, nil
		case x > hi:
			return []string{EventAbove}, nil
		}
		return nil, nil
	}, nil
}

// LogHandler 记录一条告警日志并计数
func LogHandler(l *zap.Logger, em *metrics.EventMetrics, collector, event string) Handler {
	return func(_ context.Context, v any) error {
		l.Warn("event fired", zap.String("collector", collector), zap.String("event", event), zap.Any("value", v))
		em.Fire(collector, event)
		return nil
	}
}
