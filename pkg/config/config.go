package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀：SIMSTREAM_REPORTER_INTERVAL → reporter.interval
const EnvPrefix = "SIMSTREAM"

var valid = validator.New(validator.WithRequiredStructEnabled())

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server     ServerConfig      `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Reporter   ReporterConfig    `yaml:"reporter" mapstructure:"reporter" comment:"汇聚上报配置"`
	Broker     BrokerConfig      `yaml:"broker" mapstructure:"broker" comment:"消息中间件配置"`
	Collectors []CollectorConfig `yaml:"collectors" mapstructure:"collectors" validate:"dive" comment:"采集器列表"`
	Log        ZapLogConfig      `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0" comment:"空闲连接超时时间（如60s）"`
}

// ReporterConfig 汇聚上报配置
type ReporterConfig struct {
	Interval      time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0" comment:"汇聚发布间隔" default:"5s"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace" validate:"gt=0" comment:"每个采集器停止的最长等待" default:"5s"`
	RoutingKeys   []string      `yaml:"routing_keys" mapstructure:"routing_keys" validate:"dive,required" comment:"初始发布目标"`
	Codec         string        `yaml:"codec" mapstructure:"codec" validate:"oneof=json proto" comment:"批次编码（json/proto）" default:"json"`
	Queue         QueueConfig   `yaml:"queue" mapstructure:"queue" comment:"汇聚队列"`
}

// QueueConfig 汇聚队列配置，capacity 为 0 表示无界
type QueueConfig struct {
	Capacity     int           `yaml:"capacity" mapstructure:"capacity" validate:"gte=0" comment:"队列容量，0为无界" default:"0"`
	DropPolicy   string        `yaml:"drop_policy" mapstructure:"drop_policy" validate:"oneof=none newest oldest block" comment:"满时策略" default:"none"`
	BlockTimeout time.Duration `yaml:"block_timeout" mapstructure:"block_timeout" validate:"gte=0" comment:"block 策略的最长等待" default:"1s"`
}

// BrokerConfig 消息中间件配置
type BrokerConfig struct {
	Kind           string        `yaml:"kind" mapstructure:"kind" validate:"oneof=nats redis log" comment:"中间件类型（nats/redis/log）" default:"log"`
	URL            string        `yaml:"url" mapstructure:"url" comment:"连接地址"`
	Exchange       string        `yaml:"exchange" mapstructure:"exchange" validate:"excludesall=*#> " comment:"subject 前缀" default:"simstream"`
	ExchangeType   string        `yaml:"exchange_type" mapstructure:"exchange_type" validate:"oneof=direct topic" comment:"路由方式（direct/topic）" default:"topic"`
	Queue          string        `yaml:"queue" mapstructure:"queue" comment:"消费端 queue group"`
	ConnectRetries uint          `yaml:"connect_retries" mapstructure:"connect_retries" validate:"gte=1" comment:"首次连接最大尝试次数" default:"5"`
	FlushTimeout   time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout" validate:"gt=0" comment:"发布确认超时" default:"5s"`
}

// CollectorConfig 单个采集器配置
type CollectorConfig struct {
	Name        string              `yaml:"name" mapstructure:"name" validate:"required" comment:"采集器名称（唯一）"`
	Kind        string              `yaml:"kind" mapstructure:"kind" validate:"required" comment:"测量类型（memory/cpu/load/logtail）"`
	Limit       int                 `yaml:"limit" mapstructure:"limit" validate:"gte=1" comment:"环形缓冲区容量"`
	Interval    time.Duration       `yaml:"interval" mapstructure:"interval" validate:"gt=0" comment:"采集间隔"`
	Options     map[string]any      `yaml:"options" mapstructure:"options" comment:"测量参数"`
	PostProcess []PostProcessConfig `yaml:"postprocess" mapstructure:"postprocess" validate:"dive" comment:"后处理链"`
}

// PostProcessConfig 后处理器配置
type PostProcessConfig struct {
	Kind    string         `yaml:"kind" mapstructure:"kind" validate:"required" comment:"后处理类型（scale/match/bounds）"`
	Options map[string]any `yaml:"options" mapstructure:"options" comment:"后处理参数"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"console"`
	Path      string `yaml:"path" mapstructure:"path" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" validate:"gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" validate:"gte=0" comment:"日志文件最大备份数，0 表示按天数清理" default:"0"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" validate:"gte=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Reporter: ReporterConfig{
			Interval:      5 * time.Second,
			ShutdownGrace: 5 * time.Second,
			RoutingKeys:   []string{},
			Codec:         "json",
			Queue: QueueConfig{
				Capacity:     0,
				DropPolicy:   "none",
				BlockTimeout: time.Second,
			},
		},
		Broker: BrokerConfig{
			Kind:           "log",
			Exchange:       "simstream",
			ExchangeType:   "topic",
			ConnectRetries: 5,
			FlushTimeout:   5 * time.Second,
		},
		Collectors: []CollectorConfig{},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "console",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 0,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags > ENV > YAML > 默认值)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	return decode(v)
}

// LoadFile 仅从 YAML 文件（和环境变量）加载
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	// 3. 绑定环境变量 ENV -> Viper （SIMSTREAM_SERVER_ADDR -> server.addr）
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. 解码反序列化到结构体（支持 time.Duration）
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1，校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验上报与中间件配置
	if err := c.Reporter.Validate(); err != nil {
		return err
	}
	if err := c.Broker.Validate(); err != nil {
		return err
	}
	// 	3，校验采集器列表
	if err := validateCollectors(c.Collectors); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
