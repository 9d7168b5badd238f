package measure

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLogTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sim.log")
	appendFile(t, path, "old line\n")

	tail := NewLogTail(path)
	defer tail.Close()

	got, err := tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got, "starts at end of file")

	appendFile(t, path, "[STATUS] step 1\n[ERROR] boom\npart")
	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"[STATUS] step 1", "[ERROR] boom"}, got)

	appendFile(t, path, "ial\n")
	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, got)

	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)

	// 保留缩进，只去掉 CRLF 的 \r
	appendFile(t, path, "Traceback:\r\n    at step()\n")
	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Traceback:", "    at step()"}, got)

	// 截断
	require.NoError(t, os.WriteFile(path, []byte("c\n"), 0o644))
	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	// 轮转
	require.NoError(t, os.Rename(path, path+".1"))
	appendFile(t, path, "d\n")
	got, err = tail.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)
}

func TestLogTailMissingFile(t *testing.T) {
	tail := NewLogTail(filepath.Join(t.TempDir(), "missing.log"))
	_, err := tail.Measure(context.Background())
	assert.Error(t, err)
	assert.NoError(t, tail.Close())
}

func TestSystemMeasurers(t *testing.T) {
	ctx := context.Background()

	mem, err := Memory(0)
	require.NoError(t, err)
	v, err := mem(ctx)
	require.NoError(t, err)
	sample := v.(map[string]any)
	assert.Greater(t, sample["y"], uint64(0))
	assert.Positive(t, sample["x"])

	v, err = Load()(ctx)
	require.NoError(t, err)
	assert.Contains(t, v, "load1")
	assert.Contains(t, v, "load15")

	v, err = CPU(true)(ctx)
	require.NoError(t, err)
	assert.IsType(t, []float64{}, v.(map[string]any)["y"])
}

func TestScale(t *testing.T) {
	ctx := context.Background()
	in := map[string]any{"x": int64(1), "y": uint64(2_500_000)}

	out, err := Scale("y", 1e-6)(ctx, in)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, out.(map[string]any)["y"], 1e-9)
	assert.Equal(t, uint64(2_500_000), in["y"], "input is not modified")

	out, err = Scale("", 2)(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out)

	out, err = Scale("y", 10)(ctx, map[string]any{"y": []float64{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, out.(map[string]any)["y"])

	for _, bad := range []any{"text", map[string]any{"x": 1}, map[string]any{"y": "1"}} {
		_, err := Scale("y", 2)(ctx, bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestMatchLines(t *testing.T) {
	ctx := context.Background()
	match, err := MatchLines(`^\[(STATUS|ERROR)\]`)
	require.NoError(t, err)

	out, err := match(ctx, []string{"[STATUS] ok", "noise", "[ERROR] bad"})
	require.NoError(t, err)
	assert.Equal(t, []string{"[STATUS] ok", "[ERROR] bad"}, out)

	out, err = match(ctx, []any{"noise"})
	require.NoError(t, err)
	assert.Equal(t, []string{}, out)

	_, err = match(ctx, 42)
	assert.Error(t, err)

	_, err = MatchLines("(")
	assert.Error(t, err)
}
