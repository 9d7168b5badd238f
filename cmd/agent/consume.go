package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/logger"
	"github.com/simstream/pkg/publisher"
)

func newConsumeCmd() *cobra.Command {
	var bindings []string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Subscribe to the configured broker and print each batch as a JSON line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return consume(ctx, cfg, bindings, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&bindings, "binding", "b", nil, "-> Routing key bindings, * and # allowed on topic exchanges | 订阅绑定")
	cmd.Flags().String("reporter.codec", defaultCfg.Reporter.Codec, "-> Fallback batch encoding [json,proto] | 兜底编码")
	return cmd
}

// line 输出格式
type line struct {
	RoutingKey string `json:"routing_key"`
	publisher.Batch
}

func consume(ctx context.Context, cfg *config.Config, bindings []string, out io.Writer) error {
	// 批次写 stdout，日志写 stderr
	log, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = log.Sync() }()

	codec, err := publisher.CodecFor(cfg.Reporter.Codec)
	if err != nil {
		return err
	}
	consumer, err := publisher.ConsumerFromConfig(cfg.Broker, codec, bindings, log.Named("consumer"))
	if err != nil {
		return err
	}

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	return consumer.Consume(ctx, func(key string, b publisher.Batch) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(line{RoutingKey: key, Batch: b})
	})
}
