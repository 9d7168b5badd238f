package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/publisher"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Log.Path = t.TempDir()
	cfg.Log.Level = "warn"
	return cfg
}

func TestRunFlagsReachConfig(t *testing.T) {
	root := &cobra.Command{Use: "simstream"}
	root.PersistentFlags().StringP("config", "c", "", "")
	initBrokerFlags(root)
	initLogFlags(root)

	var got *config.Config
	run := newRunCmd()
	run.RunE = func(cmd *cobra.Command, _ []string) error {
		var err error
		got, err = config.LoadConfigWithCli(cmd)
		return err
	}
	root.AddCommand(run)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reporter:\n  interval: 3s\nbroker:\n  exchange: lab\n"), 0o644))

	root.SetArgs([]string{"run", "-c", path,
		"--log.path", t.TempDir(),
		"--reporter.routing_keys", "sim.a,sim.b",
		"--reporter.queue.capacity", "8",
		"--reporter.queue.drop_policy", "oldest",
		"--server.read_timeout", "2s",
	})
	require.NoError(t, root.Execute())

	require.NotNil(t, got)
	assert.Equal(t, 3*time.Second, got.Reporter.Interval)
	assert.Equal(t, "lab", got.Broker.Exchange)
	assert.Equal(t, []string{"sim.a", "sim.b"}, got.Reporter.RoutingKeys)
	assert.Equal(t, 8, got.Reporter.Queue.Capacity)
	assert.Equal(t, "oldest", got.Reporter.Queue.DropPolicy)
	assert.Equal(t, 2*time.Second, got.Server.ReadTimeout)
}

func TestRunAgentUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Reporter.Interval = 50 * time.Millisecond
	cfg.Reporter.ShutdownGrace = time.Second
	cfg.Reporter.RoutingKeys = []string{"sim.load"}
	cfg.Collectors = []config.CollectorConfig{
		{Name: "load", Kind: "load", Limit: 5, Interval: 20 * time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.NoError(t, runAgent(ctx, cfg))
}

func TestRunAgentRejectsUnknownCollector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Collectors = []config.CollectorConfig{
		{Name: "gpu", Kind: "gpu", Limit: 5, Interval: time.Second},
	}
	assert.Error(t, runAgent(context.Background(), cfg))
}

func TestConsumePrintsBatches(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	defer s.Shutdown()

	cfg := testConfig(t)
	cfg.Broker.Kind = "nats"
	cfg.Broker.URL = s.ClientURL()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- consume(ctx, cfg, []string{"sim.*"}, out) }()

	pub, err := publisher.FromConfig(cfg.Broker, publisher.JSONCodec{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pub.Connect(ctx))
	defer pub.Close(ctx)

	batch := publisher.Batch{Source: "src", Sequence: 7, Timestamp: time.Now().UTC(),
		Data: publisher.Aggregate{"rss": {1.5}}}
	// 订阅建立前发布的批次会丢失，持续发布直到收到
	require.Eventually(t, func() bool {
		if err := pub.Publish(ctx, batch, "sim.memory"); err != nil {
			return false
		}
		return out.String() != ""
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	first, _, _ := bytes.Cut([]byte(out.String()), []byte("\n"))
	var got map[string]any
	require.NoError(t, json.Unmarshal(first, &got))
	assert.Equal(t, "sim.memory", got["routing_key"])
	assert.Equal(t, "src", got["source"])
	assert.EqualValues(t, 7, got["sequence"])
	assert.Equal(t, map[string]any{"rss": []any{1.5}}, got["data"])
}
