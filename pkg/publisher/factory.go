package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simstream/pkg/config"
)

// Consumer 订阅中间件并把解码后的批次交给 handler，直到 ctx 结束
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
}

func destinationOf(cfg config.BrokerConfig) (Destination, error) {
	typ, err := ParseExchangeType(cfg.ExchangeType)
	if err != nil {
		return Destination{}, err
	}
	return Destination{Exchange: cfg.Exchange, Type: typ}, nil
}

// FromConfig 按中间件配置创建发布器（nats/redis/log）
func FromConfig(cfg config.BrokerConfig, codec Codec, l *zap.Logger) (Publisher, error) {
	dest, err := destinationOf(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case "nats":
		return NewNATSPublisher(NATSOptions{
			URL:            cfg.URL,
			ConnectRetries: cfg.ConnectRetries,
			FlushTimeout:   cfg.FlushTimeout,
		}, codec, dest, l), nil
	case "redis":
		return NewRedisPublisher(RedisOptions{URL: cfg.URL, ConnectRetries: cfg.ConnectRetries}, codec, dest, l), nil
	case "log", "":
		return NewLogPublisher(l, codec, dest), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBroker, cfg.Kind)
	}
}

// ConsumerFromConfig 按中间件配置创建消费端，bindings 为空时订阅全部 routing key
// codec 是无法从消息头判断编码时的兜底（redis 没有消息头）
func ConsumerFromConfig(cfg config.BrokerConfig, codec Codec, bindings []string, l *zap.Logger) (Consumer, error) {
	dest, err := destinationOf(cfg)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		if dest.Type == ExchangeDirect {
			return nil, fmt.Errorf("direct exchange needs at least one binding")
		}
		bindings = []string{"#"}
	}
	switch cfg.Kind {
	case "nats":
		return NewNATSConsumer(NATSOptions{
			URL:            cfg.URL,
			ConnectRetries: cfg.ConnectRetries,
			FlushTimeout:   cfg.FlushTimeout,
		}, codec, dest, cfg.Queue, bindings, l), nil
	case "redis":
		return NewRedisConsumer(RedisOptions{URL: cfg.URL, ConnectRetries: cfg.ConnectRetries}, codec, dest, bindings, l), nil
	default:
		return nil, fmt.Errorf("%w: %q cannot be consumed", ErrUnknownBroker, cfg.Kind)
	}
}
