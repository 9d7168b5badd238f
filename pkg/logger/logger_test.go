package logger_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/logger"
)

// mockFatalHook 捕获 fatal 日志（不退出进程）
type mockFatalHook struct {
	called bool
}

func (h *mockFatalHook) Hook(e zapcore.Entry) error {
	if e.Level == zapcore.FatalLevel {
		h.called = true
	}
	return nil
}

func logConfig(t *testing.T, format string) config.ZapLogConfig {
	return config.ZapLogConfig{
		Level:   "debug",
		Format:  format,
		Path:    filepath.Join(t.TempDir(), "logs"),
		MaxSize: 1,
		MaxAge:  1,
	}
}

func TestNewWritesStdoutAndFile(t *testing.T) {
	cfg := logConfig(t, "json")
	var stdout bytes.Buffer

	l, err := logger.New(cfg, &stdout)
	require.NoError(t, err)
	l.Info("collector started", zap.String("collector", "rss"))
	l.Debug("debug msg")
	require.NoError(t, l.Sync())

	var entry map[string]any
	line, _, _ := bytes.Cut(stdout.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "collector started", entry["msg"])
	assert.Equal(t, "rss", entry["collector"])
	assert.Contains(t, entry, "timestamp")

	files, err := filepath.Glob(filepath.Join(cfg.Path, "simstream-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	body, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"msg":"collector started"`)
	assert.Contains(t, string(body), `"msg":"debug msg"`)
}

func TestConsoleFormat(t *testing.T) {
	cfg := logConfig(t, "console")
	cfg.Level = "warn"
	var stdout bytes.Buffer

	l, err := logger.New(cfg, &stdout)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown")
	assert.Contains(t, stdout.String(), "WARN")
}

func TestFatalHook(t *testing.T) {
	var stdout bytes.Buffer
	l, err := logger.New(logConfig(t, "json"), &stdout)
	require.NoError(t, err)

	// Fatal 测试（使用 zap.Hooks + WithFatalHook，不触发 os.Exit）
	hook := &mockFatalHook{}
	l = l.WithOptions(zap.Hooks(hook.Hook), zap.WithFatalHook(zapcore.WriteThenPanic))
	assert.Panics(t, func() { l.Fatal("fatal msg") })
	assert.True(t, hook.called)
}

func TestPackageLevelHelpers(t *testing.T) {
	assert.NotNil(t, logger.GetLogger(), "a no-op logger is available before Init")

	core, logs := observer.New(zap.DebugLevel)
	restore := logger.ReplaceForTest(zap.New(core))
	defer restore()

	logger.SetDefaultCollector("agent")
	defer logger.SetDefaultCollector("")

	logger.Info("hello", "")
	logger.Warn("override", "rss", zap.Int("n", 3))
	logger.Named("cpu").Debug("named")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "agent", entries[0].ContextMap()["collector"])
	assert.NotEmpty(t, entries[0].ContextMap()["goid"])
	assert.Equal(t, "rss", entries[1].ContextMap()["collector"])
	assert.EqualValues(t, 3, entries[1].ContextMap()["n"])
	assert.Equal(t, "cpu", entries[2].ContextMap()["collector"])
}
