// Package registers 把配置中的采集器定义（kind + options）转换为可注册的 collector.Spec。
// 新增测量源或后处理器只需在模块表中添加一条。
package registers

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simstream/pkg/collector"
	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/logger"
	"github.com/simstream/pkg/measure"
	"github.com/simstream/pkg/metrics"
	"github.com/simstream/pkg/monitor"
)

// MeasurerFactory 按 options 构造测量源
type MeasurerFactory func(b *Builder, opts map[string]any) (collector.Measurer, error)

// PostProcessorFactory 按 options 构造后处理器，collectorName 用于日志和指标标签
type PostProcessorFactory func(b *Builder, collectorName string, opts map[string]any) (collector.PostProcessor, error)

var (
	modulesMu      sync.RWMutex
	measurers      = map[string]MeasurerFactory{}
	postProcessors = map[string]PostProcessorFactory{}
)

func init() {
	RegisterMeasurer("memory", newMemory)
	RegisterMeasurer("cpu", newCPU)
	RegisterMeasurer("load", newLoad)
	RegisterMeasurer("logtail", newLogTail)

	RegisterPostProcessor("scale", newScale)
	RegisterPostProcessor("match", newMatch)
	RegisterPostProcessor("bounds", newBounds)
}

// RegisterMeasurer 注册（或替换）测量源类型
func RegisterMeasurer(kind string, f MeasurerFactory) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	measurers[kind] = f
}

// RegisterPostProcessor 注册（或替换）后处理器类型
func RegisterPostProcessor(kind string, f PostProcessorFactory) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	postProcessors[kind] = f
}

// Kinds 已注册的测量源和后处理器类型
func Kinds() (measurerKinds, postProcessorKinds []string) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	for k := range measurers {
		measurerKinds = append(measurerKinds, k)
	}
	for k := range postProcessors {
		postProcessorKinds = append(postProcessorKinds, k)
	}
	sort.Strings(measurerKinds)
	sort.Strings(postProcessorKinds)
	return measurerKinds, postProcessorKinds
}

// Registrar 采集器注册目标，通常是 *reporter.Reporter
type Registrar interface {
	AddCollector(spec collector.Spec) error
}

// Option Builder 选项
type Option func(*Builder)

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.log = l }
}

func WithEventMetrics(m *metrics.EventMetrics) Option {
	return func(b *Builder) { b.events = m }
}

// Builder 构造采集器定义，并持有需要在退出时释放的资源（如日志文件句柄）
type Builder struct {
	log    *zap.Logger
	events *metrics.EventMetrics

	mu      sync.Mutex
	closers []io.Closer
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{log: logger.GetLogger()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// BuildSpec 根据配置构造采集器定义，未知类型或非法参数返回 Configuration 错误
func (b *Builder) BuildSpec(cfg config.CollectorConfig) (collector.Spec, error) {
	modulesMu.RLock()
	newMeasurer, ok := measurers[cfg.Kind]
	modulesMu.RUnlock()
	if !ok {
		return collector.Spec{}, errdefs.New(errdefs.KindConfiguration, "build_collector", cfg.Name,
			fmt.Errorf("unknown measurer kind %q", cfg.Kind))
	}
	m, err := newMeasurer(b, cfg.Options)
	if err != nil {
		return collector.Spec{}, errdefs.New(errdefs.KindConfiguration, "build_collector", cfg.Name,
			fmt.Errorf("%s: %w", cfg.Kind, err))
	}
	if c, ok := m.(io.Closer); ok {
		b.track(c)
	}

	spec := collector.Spec{
		Name:     cfg.Name,
		Limit:    cfg.Limit,
		Interval: cfg.Interval,
		Measurer: m,
	}

	var chain collector.Chain
	for i, pc := range cfg.PostProcess {
		modulesMu.RLock()
		newPost, ok := postProcessors[pc.Kind]
		modulesMu.RUnlock()
		if !ok {
			return collector.Spec{}, errdefs.New(errdefs.KindConfiguration, "build_collector", cfg.Name,
				fmt.Errorf("postprocess[%d]: unknown kind %q", i, pc.Kind))
		}
		p, err := newPost(b, cfg.Name, pc.Options)
		if err != nil {
			return collector.Spec{}, errdefs.New(errdefs.KindConfiguration, "build_collector", cfg.Name,
				fmt.Errorf("postprocess[%d] %s: %w", i, pc.Kind, err))
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
	case 1:
		spec.PostProcessor = chain[0]
	default:
		spec.PostProcessor = chain
	}
	return spec, spec.Validate()
}

// RegisterCollectors 采集器注册统一入口，遇到第一个错误即返回
func (b *Builder) RegisterCollectors(r Registrar, cols []config.CollectorConfig) error {
	names := make([]string, 0, len(cols))
	for _, cfg := range cols {
		spec, err := b.BuildSpec(cfg)
		if err != nil {
			return err
		}
		if err := r.AddCollector(spec); err != nil {
			return err
		}
		names = append(names, cfg.Name)
		b.log.Debug("registered collector", zap.String("name", cfg.Name), zap.String("kind", cfg.Kind))
	}
	b.log.Info("all configured collectors registered", zap.Strings("collectors", names))
	return nil
}

// Close 释放构造过程中打开的资源
func (b *Builder) Close() error {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var errs error
	for _, c := range closers {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

func (b *Builder) track(c io.Closer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, c)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeOptions 把 options 解码到参数结构体并做 tag 校验，不认识的字段视为错误
func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return validate.Struct(out)
}

type memoryOptions struct {
	PID int32 `mapstructure:"pid" validate:"gte=0"` // 0 表示当前进程
}

func newMemory(_ *Builder, opts map[string]any) (collector.Measurer, error) {
	var o memoryOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return measure.Memory(o.PID)
}

type cpuOptions struct {
	PerCPU bool `mapstructure:"per_cpu"`
}

func newCPU(_ *Builder, opts map[string]any) (collector.Measurer, error) {
	var o cpuOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return measure.CPU(o.PerCPU), nil
}

func newLoad(_ *Builder, opts map[string]any) (collector.Measurer, error) {
	if err := decodeOptions(opts, &struct{}{}); err != nil {
		return nil, err
	}
	return measure.Load(), nil
}

type logTailOptions struct {
	Path string `mapstructure:"path" validate:"required"`
}

func newLogTail(_ *Builder, opts map[string]any) (collector.Measurer, error) {
	var o logTailOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return measure.NewLogTail(o.Path), nil
}

type scaleOptions struct {
	Field  string  `mapstructure:"field"`
	Factor float64 `mapstructure:"factor" validate:"required"`
}

func newScale(_ *Builder, _ string, opts map[string]any) (collector.PostProcessor, error) {
	var o scaleOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return measure.Scale(o.Field, o.Factor), nil
}

type matchOptions struct {
	Pattern string `mapstructure:"pattern" validate:"required"`
}

func newMatch(_ *Builder, _ string, opts map[string]any) (collector.PostProcessor, error) {
	var o matchOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return measure.MatchLines(o.Pattern)
}

type boundsOptions struct {
	Field string   `mapstructure:"field"`
	Min   *float64 `mapstructure:"min"`
	Max   *float64 `mapstructure:"max"`
}

// newBounds 越界时记录告警日志并计数，min/max 至少配置一个
func newBounds(b *Builder, collectorName string, opts map[string]any) (collector.PostProcessor, error) {
	var o boundsOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Min == nil && o.Max == nil {
		return nil, fmt.Errorf("bounds: min or max is required")
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if o.Min != nil {
		lo = *o.Min
	}
	if o.Max != nil {
		hi = *o.Max
	}
	check, err := monitor.Bounds(o.Field, lo, hi)
	if err != nil {
		return nil, err
	}
	return monitor.New(check, map[string]monitor.Handler{
		monitor.EventBelow: monitor.LogHandler(b.log, b.events, collectorName, monitor.EventBelow),
		monitor.EventAbove: monitor.LogHandler(b.log, b.events, collectorName, monitor.EventAbove),
	})
}
