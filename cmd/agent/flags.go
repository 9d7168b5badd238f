package agent

import (
	"github.com/spf13/cobra"

	"github.com/simstream/pkg/config"
)

// flag 名与配置键一致（section.field），由 config.LoadConfigWithCli 绑定到 viper
var defaultCfg = config.NewDefaultConfig()

func initServerFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address (HTTP监听地址)")
	f.Duration("server.read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration (读取超时时间)")
	f.Duration("server.write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration (写入超时时间)")
	f.Duration("server.idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration (空闲连接超时时间)")
}

func initReporterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	prefix := "reporter."

	f.Duration(prefix+"interval", defaultCfg.Reporter.Interval, "-> Aggregate and publish interval | 汇聚发布间隔")
	f.Duration(prefix+"shutdown_grace", defaultCfg.Reporter.ShutdownGrace, "-> Max wait per collector on stop | 采集器停止最长等待")
	f.StringSlice(prefix+"routing_keys", defaultCfg.Reporter.RoutingKeys, "-> Initial routing keys | 初始发布目标")
	f.String(prefix+"codec", defaultCfg.Reporter.Codec, "-> Batch encoding [json,proto] | 批次编码")
	f.Int(prefix+"queue.capacity", defaultCfg.Reporter.Queue.Capacity, "-> Fan-in queue capacity, 0 is unbounded | 队列容量")
	f.String(prefix+"queue.drop_policy", defaultCfg.Reporter.Queue.DropPolicy, "-> Full queue policy [none,newest,oldest,block] | 满时策略")
	f.Duration(prefix+"queue.block_timeout", defaultCfg.Reporter.Queue.BlockTimeout, "-> Max wait for the block policy | block 策略最长等待")
}

func initBrokerFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "broker."

	f.String(prefix+"kind", defaultCfg.Broker.Kind, "-> Broker [nats,redis,log] | 消息中间件类型")
	f.String(prefix+"url", defaultCfg.Broker.URL, "-> Broker URL | 连接地址")
	f.String(prefix+"exchange", defaultCfg.Broker.Exchange, "-> Subject prefix | subject 前缀")
	f.String(prefix+"exchange_type", defaultCfg.Broker.ExchangeType, "-> Routing [direct,topic] | 路由方式")
	f.String(prefix+"queue", defaultCfg.Broker.Queue, "-> Consumer queue group | 消费端 queue group")
	f.Uint(prefix+"connect_retries", defaultCfg.Broker.ConnectRetries, "-> Max initial connect attempts | 首次连接最大尝试次数")
	f.Duration(prefix+"flush_timeout", defaultCfg.Broker.FlushTimeout, "-> Publish acknowledgement timeout | 发布确认超时")
}

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "log."

	f.String(prefix+"level", defaultCfg.Log.Level, "-> Log level [debug,info,warn,error] | 日志级别")
	f.String(prefix+"format", defaultCfg.Log.Format, "-> Log format [console,json] | 日志格式")
	f.String(prefix+"path", defaultCfg.Log.Path, "-> Log file storage path | 日志路径")
	f.Int(prefix+"max_size", defaultCfg.Log.MaxSize, "-> Max size of single log file (MB) | 单文件最大MB")
	f.Int(prefix+"max_backup", defaultCfg.Log.MaxBackup, "-> Number of log backup files | 备份数量")
	f.Int(prefix+"max_age", defaultCfg.Log.MaxAge, "-> Maximum retention days of log files | 保存天数")
}
