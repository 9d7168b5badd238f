package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions Redis 连接参数，URL 形如 redis://host:6379/0
type RedisOptions struct {
	URL            string
	ConnectRetries uint
}

func dialRedis(ctx context.Context, o RedisOptions, log *zap.Logger) (*redis.Client, error) {
	ropts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tries := o.ConnectRetries
	if tries == 0 {
		tries = defaultConnectTries
	}
	client := redis.NewClient(ropts)
	_, err = backoff.Retry(ctx, func() (string, error) {
		pong, err := client.Ping(ctx).Result()
		if err != nil {
			log.Warn("redis ping failed, retrying", zap.String("addr", ropts.Addr), zap.Error(err))
		}
		return pong, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisPublisher 通过 Redis PUBLISH 发送，channel 为 exchange.routingKey
type RedisPublisher struct {
	Routes
	opts  RedisOptions
	codec Codec
	dest  Destination
	log   *zap.Logger

	dialMu sync.Mutex // 串行化连接，拨号期间不持有 mu
	mu     sync.Mutex
	client *redis.Client
}

func NewRedisPublisher(opts RedisOptions, codec Codec, dest Destination, l *zap.Logger) *RedisPublisher {
	return &RedisPublisher{opts: opts, codec: codec, dest: dest, log: l}
}

func (p *RedisPublisher) Connect(ctx context.Context) error {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	p.mu.Lock()
	connected := p.client != nil
	p.mu.Unlock()
	if connected {
		return nil
	}

	client, err := dialRedis(ctx, p.opts, p.log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	p.log.Info("redis publisher connected", zap.String("addr", client.Options().Addr))
	return nil
}

func (p *RedisPublisher) Publish(ctx context.Context, b Batch, key string) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	payload, err := p.codec.Marshal(b)
	if err != nil {
		return err
	}
	channel := p.dest.Subject(key)
	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// RedisConsumer 以 PSUBSCRIBE 订阅绑定。Redis 的 glob 不区分单词，
// 收到的消息再按 topic 规则过滤一次。
type RedisConsumer struct {
	opts     RedisOptions
	codec    Codec
	dest     Destination
	bindings []string
	log      *zap.Logger
}

func NewRedisConsumer(opts RedisOptions, codec Codec, dest Destination, bindings []string, l *zap.Logger) *RedisConsumer {
	return &RedisConsumer{opts: opts, codec: codec, dest: dest, bindings: bindings, log: l}
}

// Consume 订阅全部绑定并阻塞到 ctx 结束
func (c *RedisConsumer) Consume(ctx context.Context, handle Handler) error {
	return c.consume(ctx, handle, nil)
}

// ready 非 nil 时在订阅确认后关闭
func (c *RedisConsumer) consume(ctx context.Context, handle Handler, ready chan<- struct{}) error {
	patterns := make([]string, 0, len(c.bindings))
	for _, binding := range c.bindings {
		p, err := c.dest.Binding(binding, "*")
		if err != nil {
			return err
		}
		patterns = append(patterns, p)
	}

	client, err := dialRedis(ctx, c.opts, c.log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer client.Close()

	sub := client.PSubscribe(ctx, patterns...)
	defer sub.Close()
	for range patterns {
		if _, err := sub.Receive(ctx); err != nil {
			return fmt.Errorf("psubscribe %v: %w", patterns, err)
		}
	}
	c.log.Info("redis consumer subscribed", zap.Strings("patterns", patterns))
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key := c.dest.Key(msg.Channel)
			if !c.matches(key) {
				continue
			}
			var b Batch
			if err := c.codec.Unmarshal([]byte(msg.Payload), &b); err != nil {
				c.log.Error("decode batch failed", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := handle(key, b); err != nil {
				c.log.Warn("batch handler failed", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}

func (c *RedisConsumer) matches(key string) bool {
	for _, binding := range c.bindings {
		if c.dest.Matches(binding, key) {
			return true
		}
	}
	return false
}
