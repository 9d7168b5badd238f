// Package collector 实现按固定间隔独立运行的采集器：每个采集器一个 goroutine，
// 结果写入自己的环形缓冲区并投递到汇聚队列。
package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/logger"
	"github.com/simstream/pkg/metrics"
	"github.com/simstream/pkg/queue"
	"github.com/simstream/pkg/ring"
)

// State 采集器状态
type State int32

const (
	StateInactive State = iota
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "inactive"
	}
}

// Spec 采集器定义，注册时校验一次，之后不可原地修改
type Spec struct {
	Name          string        `validate:"required"`
	Limit         int           `validate:"gte=1"` // 环形缓冲区容量
	Interval      time.Duration `validate:"gt=0"`  // 两次采集之间的等待时间
	Measurer      Measurer      `validate:"required"`
	PostProcessor PostProcessor // 可选
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验采集器定义
func (s Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errdefs.New(errdefs.KindConfiguration, "validate_collector", s.Name, err)
	}
	return nil
}

// Stats 采集器运行统计
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Interval  string `json:"interval"`
	Limit     int    `json:"limit"`
	Buffered  int    `json:"buffered"`
	Cycles    uint64 `json:"cycles"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// run 一次 Start 对应的运行句柄
type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	abandoned atomic.Bool // 停止超时后置位，之后产生的结果直接丢弃
}

// Option 采集器选项
type Option func(*Collector)

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) { c.log = l.With(zap.String("collector", c.spec.Name)) }
}

// WithClock 指定时钟，测试中使用 clockwork.NewFakeClock()
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// WithMetrics 绑定采集器指标
func WithMetrics(m *metrics.CollectorMetrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// Collector 采集器
type Collector struct {
	spec    Spec
	buf     *ring.Buffer[any]
	sink    Sink
	log     *zap.Logger
	clock   clockwork.Clock
	metrics *metrics.CollectorMetrics

	mu    sync.Mutex
	state State
	run   *run

	cycles   atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Value // string
}

// New 校验定义并创建采集器，初始状态为 inactive
func New(spec Spec, sink Sink, opts ...Option) (*Collector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errdefs.Configurationf("new_collector", "collector %q has no sink", spec.Name)
	}
	buf, err := ring.New[any](spec.Limit)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		spec:  spec,
		buf:   buf,
		sink:  sink,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named(spec.Name)
	}
	return c, nil
}

// Start 启动采集循环：立即执行第一次采集，之后每次采集结束等待 Interval
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInactive {
		return errdefs.New(errdefs.KindAlreadyRunning, "start_collector", c.spec.Name, nil)
	}
	if c.run != nil {
		select {
		case <-c.run.done:
			c.run = nil
		default:
			return errdefs.New(errdefs.KindAlreadyRunning, "start_collector", c.spec.Name,
				errors.New("a force-stopped cycle is still in flight"))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	c.run = r
	c.state = StateActive
	go c.loop(runCtx, r)

	c.log.Info("collector started",
		zap.Duration("interval", c.spec.Interval),
		zap.Int("limit", c.spec.Limit))
	return nil
}

// Stop 停止采集循环并等待其退出，ctx 到期时强制标记为 inactive 并返回超时错误。
// 停止过程中再次调用同样等待循环退出；对未运行的采集器调用是空操作。
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	switch {
	case c.state == StateActive:
		c.state = StateStopping
	case c.state == StateStopping && r != nil:
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	r.cancel()

	select {
	case <-r.done:
		c.mu.Lock()
		stopped := c.run == r
		if stopped {
			c.state = StateInactive
			c.run = nil
		}
		c.mu.Unlock()
		if stopped {
			c.log.Info("collector stopped")
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		r.abandoned.Store(true)
		if c.run == r {
			c.state = StateInactive
		}
		c.mu.Unlock()
		c.metrics.ShutdownTimeout(c.spec.Name)
		return errdefs.New(errdefs.KindShutdownTimeout, "stop_collector", c.spec.Name, ctx.Err())
	}
}

// Collect 执行一次采集（测量 → 后处理 → 写缓冲区 → 投递）。
// 失败时返回 measurement 类错误，缓冲区和队列都不会被写入。
func (c *Collector) Collect(ctx context.Context) (any, error) {
	return c.collect(ctx, nil)
}

func (c *Collector) collect(ctx context.Context, r *run) (any, error) {
	start := c.clock.Now()
	v, err := c.measure(ctx)
	c.metrics.ObserveCollect(c.spec.Name, c.clock.Since(start), err)
	if err != nil {
		c.failures.Add(1)
		c.lastErr.Store(err.Error())
		return nil, errdefs.New(errdefs.KindMeasurement, "collect", c.spec.Name, err)
	}

	c.mu.Lock()
	if r != nil && r.abandoned.Load() {
		c.mu.Unlock()
		return nil, errdefs.New(errdefs.KindShutdownTimeout, "collect", c.spec.Name,
			errors.New("result discarded after forced stop"))
	}
	c.buf.Append(v)
	c.mu.Unlock()

	c.cycles.Add(1)
	c.metrics.SetBuffered(c.spec.Name, c.buf.Len())

	if err := c.sink.Put(queue.Item{Name: c.spec.Name, Value: v, At: c.clock.Now()}); err != nil {
		c.log.Warn("result not queued", zap.Error(err))
	}
	return v, nil
}

// measure 调用用户回调，panic 视为一次失败
func (c *Collector) measure(ctx context.Context) (v any, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		v, err = c.spec.Measurer.Measure(ctx)
		if err == nil && c.spec.PostProcessor != nil {
			v, err = c.spec.PostProcessor.Apply(ctx, v)
		}
	})
	if rec := pc.Recovered(); rec != nil {
		return nil, rec.AsError()
	}
	return v, err
}

func (c *Collector) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer c.exited(r)

	for {
		if _, err := c.collect(ctx, r); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("collect failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.spec.Interval):
		}
	}
}

// exited 父 context 结束导致循环退出时回到 inactive
func (c *Collector) exited(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == r && c.state == StateActive {
		c.state = StateInactive
		c.run = nil
	}
}

func (c *Collector) Name() string { return c.spec.Name }

func (c *Collector) Spec() Spec { return c.spec }

func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot 缓冲区全部结果（旧 → 新）
func (c *Collector) Snapshot() []any { return c.buf.Snapshot() }

// Range 缓冲区切片，语义同 ring.Buffer.Range
func (c *Collector) Range(start, end int) []any { return c.buf.Range(start, end) }

// Stats 运行统计
func (c *Collector) Stats() Stats {
	s := Stats{
		Name:     c.spec.Name,
		State:    c.State().String(),
		Interval: c.spec.Interval.String(),
		Limit:    c.spec.Limit,
		Buffered: c.buf.Len(),
		Cycles:   c.cycles.Load(),
		Failures: c.failures.Load(),
	}
	if e, ok := c.lastErr.Load().(string); ok {
		s.LastError = e
	}
	return s
}
