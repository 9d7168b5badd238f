package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simstream/internal/server"
	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/logger"
	"github.com/simstream/pkg/metrics"
	"github.com/simstream/pkg/publisher"
	"github.com/simstream/pkg/queue"
	"github.com/simstream/pkg/registers"
	"github.com/simstream/pkg/reporter"
	"github.com/simstream/pkg/signal"
	"github.com/simstream/pkg/util"
)

// 最终汇聚和 HTTP 关闭之外额外留出的时间
const shutdownSlack = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured collectors, the reporter and the HTTP status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runAgent(cmd.Context(), cfg)
		},
	}
	initServerFlags(cmd)
	initReporterFlags(cmd)
	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.SetDefaultCollector("agent")
	log := logger.GetLogger()

	util.PrintBanner(os.Stdout, "simstream", "cyan", "version "+Version)

	const enableProcess = true
	registry := metrics.NewAgentRegistry(enableProcess)
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(registry))

	codec, err := publisher.CodecFor(cfg.Reporter.Codec)
	if err != nil {
		return err
	}
	pub, err := publisher.FromConfig(cfg.Broker, codec, logger.Named("publisher"))
	if err != nil {
		return err
	}

	rep, err := reporter.New(reporter.Config{
		Interval:      cfg.Reporter.Interval,
		ShutdownGrace: cfg.Reporter.ShutdownGrace,
		RoutingKeys:   cfg.Reporter.RoutingKeys,
	}, pub,
		reporter.WithLogger(logger.Named("reporter")),
		reporter.WithCollectorMetrics(factory.NewCollectorMetrics()),
		reporter.WithPublishMetrics(factory.NewPublishMetrics()),
		reporter.WithQueueOptions(
			queue.WithCapacity(cfg.Reporter.Queue.Capacity, queue.DropPolicy(cfg.Reporter.Queue.DropPolicy)),
			queue.WithBlockTimeout(cfg.Reporter.Queue.BlockTimeout),
			queue.WithMetrics(factory.NewQueueMetrics()),
		),
	)
	if err != nil {
		return err
	}

	builder := registers.NewBuilder(
		registers.WithLogger(logger.Named("registers")),
		registers.WithEventMetrics(factory.NewEventMetrics()),
	)
	defer func() {
		if err := builder.Close(); err != nil {
			log.Warn("release collector resources failed", zap.Error(err))
		}
	}()
	if err := builder.RegisterCollectors(rep, cfg.Collectors); err != nil {
		return err
	}

	if err := rep.Start(ctx); err != nil {
		return fmt.Errorf("start reporter: %w", err)
	}
	log.Info("reporter started",
		zap.String("source", rep.Source()),
		zap.Strings("collectors", rep.Names()),
		zap.Strings("routing_keys", rep.RoutingKeys()),
		zap.Duration("interval", cfg.Reporter.Interval))

	httpServer := server.NewHTTPServer(cfg.Server, registry, rep, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Reporter.ShutdownGrace+shutdownSlack)
		defer cancel()
		return multierr.Append(fmt.Errorf("start HTTP server: %w", err), rep.Stop(stopCtx))
	}

	timeout := cfg.Reporter.ShutdownGrace + cfg.Broker.FlushTimeout + shutdownSlack
	return signal.WaitForShutdown(ctx, log, timeout, func(ctx context.Context) error {
		// 关闭顺序：HTTP服务 → 上报器（停止采集器、最终汇聚、关闭连接）
		return multierr.Combine(httpServer.Shutdown(ctx), rep.Stop(ctx))
	})
}
