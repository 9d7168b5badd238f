// Package signal 处理进程退出信号和有超时的优雅关闭。
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/simstream/pkg/errdefs"
)

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM 或 ctx 结束，然后在 timeout 内执行 shutdownFunc
// 超时返回 ShutdownTimeout 错误，shutdownFunc 仍在后台运行
func WaitForShutdown(ctx context.Context, logger *zap.Logger, timeout time.Duration, shutdownFunc func(ctx context.Context) error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("service running, waiting for SIGINT/SIGTERM...")
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutdown requested", zap.Error(ctx.Err()))
	}

	// 超时控制关闭逻辑
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- shutdownFunc(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("graceful shutdown completed")
		return nil
	case <-sctx.Done():
		logger.Error("graceful shutdown timed out", zap.Duration("timeout", timeout))
		return errdefs.New(errdefs.KindShutdownTimeout, "shutdown", "", sctx.Err())
	}
}
