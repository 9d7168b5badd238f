package monitor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/metrics"
)

func TestNewRejectsNilCheck(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)

	_, err = New(func(any) ([]string, error) { return nil, nil }, map[string]Handler{"x": nil})
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestApplyFiresHandlers(t *testing.T) {
	ctx := context.Background()
	var fired []string
	record := func(name string) Handler {
		return func(_ context.Context, v any) error {
			fired = append(fired, name)
			return nil
		}
	}
	m, err := New(func(v any) ([]string, error) {
		if v.(int) > 10 {
			return []string{"high", "page"}, nil
		}
		return nil, nil
	}, map[string]Handler{"high": record("high"), "page": record("page")})
	require.NoError(t, err)

	out, err := m.Apply(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, out)
	assert.Empty(t, fired)

	out, err = m.Apply(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 11, out, "value passes through")
	assert.Equal(t, []string{"high", "page"}, fired)

	m.RemoveHandler("page")
	assert.Equal(t, []string{"high"}, m.Handlers())
	fired = nil
	_, err = m.Apply(ctx, 12)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Empty(t, fired, "no handler fires when one is missing")
}

func TestApplyErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	m, err := New(func(any) ([]string, error) { return nil, boom }, nil)
	require.NoError(t, err)
	_, err = m.Apply(ctx, 1)
	assert.ErrorIs(t, err, boom)

	m, err = New(func(any) ([]string, error) { return []string{"a"}, nil }, map[string]Handler{
		"a": func(context.Context, any) error { return boom },
	})
	require.NoError(t, err)
	_, err = m.Apply(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func TestBounds(t *testing.T) {
	check, err := Bounds("y", 1, 5)
	require.NoError(t, err)

	for _, tt := range []struct {
		in   any
		want []string
	}{
		{map[string]any{"y": 0.5}, []string{EventBelow}},
		{map[string]any{"y": uint64(3)}, nil},
		{map[string]any{"y": 9}, []string{EventAbove}},
	} {
		got, err := check(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err = check(map[string]any{"x": 1})
	assert.Error(t, err)
	_, err = check(7)
	assert.Error(t, err)

	upper, err := Bounds("", math.Inf(-1), 10)
	require.NoError(t, err)
	got, err := upper(-1e9)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = Bounds("y", 5, 1)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	factory, _ := metrics.NewTestFactory()
	em := factory.NewEventMetrics()

	check, err := Bounds("y", 0, 100)
	require.NoError(t, err)
	m, err := New(check, map[string]Handler{
		EventAbove: LogHandler(zap.New(core), em, "rss", EventAbove),
	})
	require.NoError(t, err)

	_, err = m.Apply(context.Background(), map[string]any{"y": 150.0})
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("event fired").Len())
	assert.Equal(t, "above", logs.All()[0].ContextMap()["event"])
	assert.Equal(t, 1.0, testutil.ToFloat64(em.Fired.WithLabelValues("rss", EventAbove)))
}
