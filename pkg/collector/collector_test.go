package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/metrics"
	"github.com/simstream/pkg/queue"
)

func counter() MeasurerFunc {
	var n atomic.Int64
	return func(context.Context) (any, error) {
		return int(n.Add(1)), nil
	}
}

func newQueue(t *testing.T, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.New(opts...)
	require.NoError(t, err)
	return q
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	q := newQueue(t)
	for _, tt := range []struct {
		name string
		spec Spec
	}{
		{name: "missing name", spec: Spec{Limit: 1, Interval: time.Second, Measurer: counter()}},
		{name: "zero limit", spec: Spec{Name: "a", Limit: 0, Interval: time.Second, Measurer: counter()}},
		{name: "zero interval", spec: Spec{Name: "a", Limit: 1, Measurer: counter()}},
		{name: "missing measurer", spec: Spec{Name: "a", Limit: 1, Interval: time.Second}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.spec, q)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}

	_, err := New(Spec{Name: "a", Limit: 1, Interval: time.Second, Measurer: counter()}, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestCollectKeepsMostRecent(t *testing.T) {
	q := newQueue(t)
	c, err := New(Spec{Name: "n", Limit: 3, Interval: time.Second, Measurer: counter()}, q,
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := c.Collect(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []any{3, 4, 5}, c.Snapshot())
	assert.Equal(t, []any{4, 5}, c.Range(-2, 3))

	items := q.DrainAll()
	require.Len(t, items, 5)
	for i, it := range items {
		assert.Equal(t, "n", it.Name)
		assert.Equal(t, i+1, it.Value)
	}
	assert.EqualValues(t, 5, c.Stats().Cycles)
}

func TestCollectAppliesPostProcessor(t *testing.T) {
	q := newQueue(t)
	double := PostProcessorFunc(func(_ context.Context, v any) (any, error) { return v.(int) * 2, nil })
	addOne := PostProcessorFunc(func(_ context.Context, v any) (any, error) { return v.(int) + 1, nil })

	c, err := New(Spec{
		Name: "p", Limit: 2, Interval: time.Second,
		Measurer:      counter(),
		PostProcessor: Chain{double, addOne},
	}, q, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	v, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []any{3}, c.Snapshot())
}

func TestCollectFailures(t *testing.T) {
	boom := errors.New("boom")
	for _, tt := range []struct {
		name string
		spec Spec
	}{
		{
			name: "measurer error",
			spec: Spec{Measurer: MeasurerFunc(func(context.Context) (any, error) { return nil, boom })},
		},
		{
			name: "measurer panic",
			spec: Spec{Measurer: MeasurerFunc(func(context.Context) (any, error) { panic("kaboom") })},
		},
		{
			name: "postprocessor error",
			spec: Spec{
				Measurer:      counter(),
				PostProcessor: PostProcessorFunc(func(context.Context, any) (any, error) { return nil, boom }),
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f, reg := metrics.NewTestFactory()
			cm := f.NewCollectorMetrics()
			q := newQueue(t)

			spec := tt.spec
			spec.Name, spec.Limit, spec.Interval = "bad", 2, time.Second
			c, err := New(spec, q, WithLogger(zaptest.NewLogger(t)), WithMetrics(cm))
			require.NoError(t, err)

			v, err := c.Collect(context.Background())
			assert.Nil(t, v)
			assert.ErrorIs(t, err, errdefs.ErrMeasurement)
			assert.Equal(t, errdefs.KindMeasurement, errdefs.KindOf(err))

			assert.Empty(t, c.Snapshot())
			assert.Equal(t, 0, q.Len())
			assert.EqualValues(t, 1, c.Stats().Failures)
			assert.NotEmpty(t, c.Stats().LastError)
			assert.Equal(t, 1.0, testutil.ToFloat64(cm.Errors.WithLabelValues("bad")))
			assert.Equal(t, 1, testutil.CollectAndCount(reg, "simstream_collect_duration_seconds"))
		})
	}
}

func TestFailingCollectorStaysActive(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newQueue(t)
	var calls atomic.Int64
	c, err := New(Spec{
		Name: "flaky", Limit: 2, Interval: time.Second,
		Measurer: MeasurerFunc(func(context.Context) (any, error) {
			calls.Add(1)
			return nil, errors.New("sensor offline")
		}),
	}, q, WithLogger(zaptest.NewLogger(t)), WithClock(clock))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, time.Millisecond)

	assert.Equal(t, StateActive, c.State())
	assert.Empty(t, c.Snapshot())
	assert.Equal(t, 0, q.Len())

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateInactive, c.State())
}

func TestStartRunsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := newQueue(t)
	c, err := New(Spec{Name: "tick", Limit: 10, Interval: 2 * time.Second, Measurer: counter()}, q,
		WithLogger(zaptest.NewLogger(t)), WithClock(clock))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateActive, c.State())

	// first cycle runs immediately
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []any{1}, c.Snapshot())

	clock.Advance(time.Second)
	assert.Equal(t, []any{1}, c.Snapshot())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(c.Snapshot()) == 2 }, time.Second, time.Millisecond)

	err = c.Start(ctx)
	assert.ErrorIs(t, err, errdefs.ErrAlreadyRunning)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateInactive, c.State())
	require.NoError(t, c.Stop(ctx), "stop is idempotent")

	assert.Len(t, q.DrainAll(), 2)
}

func TestStopIsBoundedWhenCycleHangs(t *testing.T) {
	f, _ := metrics.NewTestFactory()
	cm := f.NewCollectorMetrics()
	q := newQueue(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	c, err := New(Spec{
		Name: "sleepy", Limit: 2, Interval: time.Hour,
		Measurer: MeasurerFunc(func(context.Context) (any, error) {
			if calls.Add(1) > 1 {
				return "fresh", nil
			}
			close(entered)
			<-release // ignores cancellation
			return "late", nil
		}),
	}, q, WithLogger(zaptest.NewLogger(t)), WithMetrics(cm))
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	<-entered

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Stop(stopCtx)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, errdefs.ErrShutdownTimeout)
	assert.Equal(t, StateInactive, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.Timeouts.WithLabelValues("sleepy")))

	// the abandoned cycle still owns the collector
	assert.ErrorIs(t, c.Start(context.Background()), errdefs.ErrAlreadyRunning)

	close(release)
	require.Eventually(t, func() bool {
		return c.Start(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.NotContains(t, c.Snapshot(), "late")
	for _, it := range q.DrainAll() {
		assert.NotEqual(t, "late", it.Value)
	}
}

func TestConcurrentStopWaitsForCycle(t *testing.T) {
	q := newQueue(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	c, err := New(Spec{
		Name: "slow", Limit: 2, Interval: time.Hour,
		Measurer: MeasurerFunc(func(context.Context) (any, error) {
			close(entered)
			<-release // ignores cancellation
			return "done", nil
		}),
	}, q, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	<-entered

	first := make(chan error, 1)
	go func() { first <- c.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateStopping }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.Stop(context.Background()) }()

	select {
	case err := <-second:
		t.Fatalf("second Stop returned %v while the cycle was still running", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateStopping, c.State())

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, StateInactive, c.State())
	assert.Equal(t, []any{"done"}, c.Snapshot())
}

func TestQueueRejectionIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	q := newQueue(t, queue.WithCapacity(1, queue.DropNewest))
	c, err := New(Spec{Name: "full", Limit: 5, Interval: time.Second, Measurer: counter()}, q,
		WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	_, err = c.Collect(context.Background())
	require.NoError(t, err, "a queue drop does not fail the cycle")

	assert.Equal(t, []any{1, 2}, c.Snapshot())
	entries := logs.FilterMessage("result not queued").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "full", entries[0].ContextMap()["collector"])
}
