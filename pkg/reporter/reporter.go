// Package reporter 管理采集器注册表，并按固定间隔执行 drain → aggregate → publish。
//
// 生命周期：inactive →(Start)→ collecting →(第一次汇聚后)→ draining →(Stop)→ stopped。
// stopped 是终态，需要重新构造才能再次运行。
package reporter

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simstream/pkg/collector"
	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/logger"
	"github.com/simstream/pkg/metrics"
	"github.com/simstream/pkg/publisher"
	"github.com/simstream/pkg/queue"
)

// Aggregate 一个周期内 采集器名称 → 结果列表
type Aggregate = publisher.Aggregate

// State 上报器状态
type State int32

const (
	StateInactive State = iota
	StateCollecting
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "inactive"
	}
}

// Config 上报器配置
type Config struct {
	Interval      time.Duration `validate:"gt=0"` // 汇聚发布间隔
	ShutdownGrace time.Duration `validate:"gt=0"` // 每个采集器停止的最长等待
	RoutingKeys   []string      // 初始发布目标
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Option 上报器选项
type Option func(*Reporter)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reporter) { r.log = l }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Reporter) { r.clock = clock }
}

func WithCollectorMetrics(m *metrics.CollectorMetrics) Option {
	return func(r *Reporter) { r.collectorMetrics = m }
}

func WithPublishMetrics(m *metrics.PublishMetrics) Option {
	return func(r *Reporter) { r.publishMetrics = m }
}

// WithQueueOptions 汇聚队列选项（容量、丢弃策略、指标）
func WithQueueOptions(opts ...queue.Option) Option {
	return func(r *Reporter) { r.queueOpts = append(r.queueOpts, opts...) }
}

// Reporter 上报器
type Reporter struct {
	cfg    Config
	pub    publisher.Publisher
	queue  *queue.Queue
	source string
	seq    atomic.Uint64

	log              *zap.Logger
	clock            clockwork.Clock
	collectorMetrics *metrics.CollectorMetrics
	publishMetrics   *metrics.PublishMetrics
	queueOpts        []queue.Option

	mu         sync.RWMutex
	collectors map[string]*collector.Collector
	state      State
	runCtx     context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}

	flushMu    sync.Mutex // 周期汇聚和停止时的最终汇聚互斥
	connected  atomic.Bool
	connecting atomic.Bool
	reconnects conc.WaitGroup
}

// New 创建上报器，注册初始 routing key 并分配实例 ID
func New(cfg Config, pub publisher.Publisher, opts ...Option) (*Reporter, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, errdefs.New(errdefs.KindConfiguration, "new_reporter", "", err)
	}
	if pub == nil {
		return nil, errdefs.Configurationf("new_reporter", "publisher is required")
	}

	r := &Reporter{
		cfg:        cfg,
		pub:        pub,
		source:     uuid.NewString(),
		clock:      clockwork.NewRealClock(),
		collectors: make(map[string]*collector.Collector),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.GetLogger()
	}
	r.log = r.log.With(zap.String("source", r.source))

	q, err := queue.New(r.queueOpts...)
	if err != nil {
		return nil, err
	}
	r.queue = q

	for _, key := range cfg.RoutingKeys {
		if err := pub.AddRoutingKey(key); err != nil {
			return nil, errdefs.New(errdefs.KindConfiguration, "new_reporter", key, err)
		}
	}
	return r, nil
}

// AddCollector 注册采集器（不会自动启动）。重名时返回 CollectorExists，注册表不变。
func (r *Reporter) AddCollector(spec collector.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.collectors[spec.Name]; ok {
		return errdefs.New(errdefs.KindCollectorExists, "add_collector", spec.Name, nil)
	}
	if r.state == StateStopped {
		return errdefs.New(errdefs.KindStopped, "add_collector", spec.Name, nil)
	}

	c, err := collector.New(spec, r.queue,
		collector.WithLogger(r.log),
		collector.WithClock(r.clock),
		collector.WithMetrics(r.collectorMetrics))
	if err != nil {
		return err
	}
	r.collectors[spec.Name] = c
	r.log.Info("collector registered", zap.String("name", spec.Name))
	return nil
}

// RemoveCollector 停止（有界等待）并注销采集器
func (r *Reporter) RemoveCollector(ctx context.Context, name string) error {
	r.mu.Lock()
	c, ok := r.collectors[name]
	if !ok {
		r.mu.Unlock()
		return errdefs.New(errdefs.KindCollectorNotFound, "remove_collector", name, nil)
	}
	delete(r.collectors, name)
	r.mu.Unlock()

	err := r.stopCollector(ctx, c)
	r.collectorMetrics.Forget(name)
	r.log.Info("collector removed", zap.String("name", name))
	return err
}

// StartCollector 单独启动一个采集器
func (r *Reporter) StartCollector(ctx context.Context, name string) error {
	r.mu.RLock()
	c, ok := r.collectors[name]
	state, runCtx := r.state, r.runCtx
	r.mu.RUnlock()

	if !ok {
		return errdefs.New(errdefs.KindCollectorNotFound, "start_collector", name, nil)
	}
	if state == StateStopped {
		return errdefs.New(errdefs.KindStopped, "start_collector", name, nil)
	}
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}
	return c.Start(runCtx)
}

// StopCollector 单独停止一个采集器（有界等待）
func (r *Reporter) StopCollector(ctx context.Context, name string) error {
	c, err := r.lookup("stop_collector", name)
	if err != nil {
		return err
	}
	return r.stopCollector(ctx, c)
}

func (r *Reporter) stopCollector(ctx context.Context, c *collector.Collector) error {
	stopCtx, cancel := context.WithTimeout(ctx, r.cfg.ShutdownGrace)
	defer cancel()

	err := c.Stop(stopCtx)
	if errdefs.KindOf(err) == errdefs.KindShutdownTimeout {
		r.log.Warn("collector did not stop within grace period, marked inactive",
			zap.String("name", c.Name()),
			zap.Duration("grace", r.cfg.ShutdownGrace))
	}
	return err
}

// Start 连接发布器、启动全部已注册采集器和汇聚循环。
// 运行中再次调用返回 AlreadyRunning，Stop 之后调用返回 Stopped。
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateStopped:
		r.mu.Unlock()
		return errdefs.New(errdefs.KindStopped, "start_reporter", r.source, nil)
	case StateCollecting, StateDraining:
		r.mu.Unlock()
		return errdefs.New(errdefs.KindAlreadyRunning, "start_reporter", r.source, nil)
	}
	r.state = StateCollecting
	r.mu.Unlock()

	r.connect(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCollecting {
		// Stop 在连接期间被调用
		_ = r.pub.Close(ctx)
		return errdefs.New(errdefs.KindStopped, "start_reporter", r.source, nil)
	}

	// 运行周期只由 Stop 结束，调用方 ctx 取消不影响已启动的循环
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.runCtx, r.cancel = runCtx, cancel
	r.loopDone = make(chan struct{})

	for _, name := range r.sortedNames() {
		if err := r.collectors[name].Start(runCtx); err != nil {
			r.log.Warn("collector not started", zap.String("name", name), zap.Error(err))
		}
	}
	go r.loop(runCtx, r.loopDone)

	r.log.Info("reporter started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("collectors", len(r.collectors)),
		zap.Strings("routing_keys", r.pub.RoutingKeys()))
	return nil
}

func (r *Reporter) connect(ctx context.Context) {
	if err := r.pub.Connect(ctx); err != nil {
		r.log.Warn("publisher connect failed, retrying on next cycle", zap.Error(err))
		return
	}
	r.connected.Store(true)
}

// reconnect 在后台重连发布器，同一时间只有一次连接在进行，不阻塞汇聚周期
func (r *Reporter) reconnect(ctx context.Context) {
	if !r.connecting.CompareAndSwap(false, true) {
		return
	}
	r.reconnects.Go(func() {
		defer r.connecting.Store(false)
		r.connect(ctx)
	})
}

func (r *Reporter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !r.connected.Load() {
				r.reconnect(ctx)
			}
			r.Flush(ctx)

			r.mu.Lock()
			if r.state == StateCollecting {
				r.state = StateDraining
			}
			r.mu.Unlock()
		}
	}
}

// Flush 取出队列中全部结果，按采集器分组后发布到每个 routing key。
// 队列为空时同样发布（心跳）。发布失败只记录和计数，该 key 本周期的批次丢弃。
func (r *Reporter) Flush(ctx context.Context) Aggregate {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	items := r.queue.DrainAll()
	agg := make(Aggregate)
	for _, it := range items {
		agg[it.Name] = append(agg[it.Name], it.Value)
	}
	r.publishMetrics.ObserveCycle(len(items))

	batch := publisher.Batch{
		Source:    r.source,
		Sequence:  r.seq.Add(1),
		Timestamp: r.clock.Now(),
		Data:      agg,
	}
	for _, key := range r.pub.RoutingKeys() {
		start := r.clock.Now()
		err := r.pub.Publish(ctx, batch, key)
		r.publishMetrics.ObservePublish(key, r.clock.Since(start), err)
		if err != nil {
			r.log.Warn("batch dropped",
				zap.Uint64("sequence", batch.Sequence),
				zap.Int("results", len(items)),
				zap.Error(errdefs.New(errdefs.KindPublish, "publish", key, err)))
			continue
		}
		r.log.Debug("batch published",
			zap.String("routing_key", key),
			zap.Uint64("sequence", batch.Sequence),
			zap.Int("results", len(items)))
	}
	return agg
}

// Stop 停止全部采集器（并发，每个最多等待 ShutdownGrace）、停止汇聚循环、
// 发布最后一批数据并关闭发布器。重复调用是空操作。
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	wasRunning := r.state != StateInactive
	r.state = StateStopped
	collectors := make([]*collector.Collector, 0, len(r.collectors))
	for _, name := range r.sortedNames() {
		collectors = append(collectors, r.collectors[name])
	}
	cancel, done := r.cancel, r.loopDone
	r.mu.Unlock()

	r.log.Info("reporter stopping", zap.Int("collectors", len(collectors)))

	var (
		errMu sync.Mutex
		errs  error
		wg    conc.WaitGroup
	)
	for _, c := range collectors {
		wg.Go(func() {
			if err := r.stopCollector(ctx, c); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = multierr.Append(errs, errdefs.New(errdefs.KindShutdownTimeout, "stop_reporter", "drain loop", ctx.Err()))
		}
	}

	// 等待后台重连退出，之后才能关闭发布器
	r.reconnects.Wait()

	// 未 Start 但通过 StartCollector 运行过的采集器也可能留有结果
	if wasRunning || r.queue.Len() > 0 {
		final := r.Flush(ctx)
		r.log.Info("final batch published", zap.Int("collectors", len(final)))
	}

	if err := r.pub.Close(ctx); err != nil {
		errs = multierr.Append(errs, errdefs.New(errdefs.KindPublish, "close_publisher", "", err))
	}
	r.log.Info("reporter stopped", zap.Error(errs))
	return errs
}

// StartStreaming 增加发布目标，不影响采集
func (r *Reporter) StartStreaming(key string) error {
	if err := r.pub.AddRoutingKey(key); err != nil {
		return errdefs.New(errdefs.KindConfiguration, "start_streaming", key, err)
	}
	r.log.Info("streaming started", zap.String("routing_key", key))
	return nil
}

// StopStreaming 移除发布目标
func (r *Reporter) StopStreaming(key string) {
	r.pub.RemoveRoutingKey(key)
	r.log.Info("streaming stopped", zap.String("routing_key", key))
}

// Get 返回采集器缓冲区的全部结果
func (r *Reporter) Get(name string) ([]any, error) {
	c, err := r.lookup("get", name)
	if err != nil {
		return nil, err
	}
	return c.Snapshot(), nil
}

// Range 返回采集器缓冲区的切片，语义同 ring.Buffer.Range
func (r *Reporter) Range(name string, start, end int) ([]any, error) {
	c, err := r.lookup("range", name)
	if err != nil {
		return nil, err
	}
	return c.Range(start, end), nil
}

func (r *Reporter) lookup(op, name string) (*collector.Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	if !ok {
		return nil, errdefs.New(errdefs.KindCollectorNotFound, op, name, nil)
	}
	return c, nil
}

// Names 已注册采集器名称（有序）
func (r *Reporter) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

// caller must hold r.mu
func (r *Reporter) sortedNames() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reporter) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reporter) RoutingKeys() []string { return r.pub.RoutingKeys() }

// Source 实例 ID，写入每个批次
func (r *Reporter) Source() string { return r.source }

// Status 上报器整体状态
type Status struct {
	Source      string            `json:"source"`
	State       string            `json:"state"`
	Sequence    uint64            `json:"sequence"`
	Queued      int               `json:"queued"`
	Dropped     uint64            `json:"dropped"`
	RoutingKeys []string          `json:"routing_keys"`
	Collectors  []collector.Stats `json:"collectors"`
}

func (r *Reporter) Status() Status {
	r.mu.RLock()
	stats := make([]collector.Stats, 0, len(r.collectors))
	for _, name := range r.sortedNames() {
		stats = append(stats, r.collectors[name].Stats())
	}
	state := r.state
	r.mu.RUnlock()

	return Status{
		Source:      r.source,
		State:       state.String(),
		Sequence:    r.seq.Load(),
		Queued:      r.queue.Len(),
		Dropped:     r.queue.Dropped(),
		RoutingKeys: r.pub.RoutingKeys(),
		Collectors:  stats,
	}
}
