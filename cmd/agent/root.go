// Package agent 命令行入口：run 启动采集上报，consume 订阅并打印批次。
package agent

import (
	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "simstream",
	Short:         "Collect measurements on independent timers and republish them to a message broker",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       Version,
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "配置文件路径（如 configs/config.yaml）")
	// 注册分组 flag
	initBrokerFlags(rootCmd)
	initLogFlags(rootCmd)

	rootCmd.AddCommand(newRunCmd(), newConsumeCmd())
}
