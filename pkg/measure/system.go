// Package measure 提供内置测量源（进程内存、CPU、负载、日志增量）和常用后处理器。
package measure

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/simstream/pkg/collector"
)

// Memory 采样进程常驻内存，结果为 {"x": 毫秒时间戳, "y": rss 字节数}
// pid <= 0 时采样当前进程
func Memory(pid int32) (collector.MeasurerFunc, error) {
	if pid <= 0 {
		pid = int32(os.Getpid())
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return func(ctx context.Context) (any, error) {
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("memory info of pid %d: %w", pid, err)
		}
		return map[string]any{"x": time.Now().UnixMilli(), "y": info.RSS}, nil
	}, nil
}

// CPU 采样 CPU 使用率（百分比），perCPU 为 true 时 y 为每核数组
// 首次调用与进程启动时的计数比较，之后与上一次调用比较
func CPU(perCPU bool) collector.MeasurerFunc {
	return func(ctx context.Context) (any, error) {
		usage, err := cpu.PercentWithContext(ctx, 0, perCPU)
		if err != nil {
			return nil, fmt.Errorf("get cpu usage failed: %w", err)
		}
		if len(usage) == 0 {
			return nil, fmt.Errorf("get cpu usage failed: no samples")
		}
		var y any = usage[0]
		if perCPU {
			y = usage
		}
		return map[string]any{"x": time.Now().UnixMilli(), "y": y}, nil
	}
}

// Load 采样系统 1/5/15 分钟负载
func Load() collector.MeasurerFunc {
	return func(ctx context.Context) (any, error) {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("get load average failed: %w", err)
		}
		return map[string]any{
			"x":      time.Now().UnixMilli(),
			"load1":  avg.Load1,
			"load5":  avg.Load5,
			"load15": avg.Load15,
		}, nil
	}
}
