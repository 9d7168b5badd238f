package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	headerContentType   = "Content-Type"
	defaultFlushWait    = 5 * time.Second
	defaultReconnWait   = 2 * time.Second
	defaultConnectTries = 5
)

// NATSOptions NATS 连接参数
type NATSOptions struct {
	URL            string
	ClientName     string
	ConnectRetries uint          // 首次连接的最大尝试次数
	FlushTimeout   time.Duration // 每次发布后等待服务端确认的时间
}

func (o NATSOptions) withDefaults() NATSOptions {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.ClientName == "" {
		o.ClientName = "simstream"
	}
	if o.ConnectRetries == 0 {
		o.ConnectRetries = defaultConnectTries
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = defaultFlushWait
	}
	return o
}

// dialNATS 带指数退避的首次连接；连接建立后由 nats.go 负责无限重连
func dialNATS(ctx context.Context, o NATSOptions, log *zap.Logger) (*nats.Conn, error) {
	return backoff.Retry(ctx, func() (*nats.Conn, error) {
		nc, err := nats.Connect(o.URL,
			nats.Name(o.ClientName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(defaultReconnWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("nats disconnected", zap.Error(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			log.Warn("nats connect failed, retrying", zap.String("url", o.URL), zap.Error(err))
			return nil, err
		}
		return nc, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(o.ConnectRetries))
}

// NATSPublisher 发布到 NATS，subject 为 exchange.routingKey
type NATSPublisher struct {
	Routes
	opts  NATSOptions
	codec Codec
	dest  Destination
	log   *zap.Logger

	dialMu sync.Mutex // 串行化连接，拨号期间不持有 mu，Publish 不被阻塞
	mu     sync.Mutex
	conn   *nats.Conn
}

func NewNATSPublisher(opts NATSOptions, codec Codec, dest Destination, l *zap.Logger) *NATSPublisher {
	return &NATSPublisher{opts: opts.withDefaults(), codec: codec, dest: dest, log: l}
}

func (p *NATSPublisher) Connect(ctx context.Context) error {
	p.dialMu.Lock()
	defer p.dialMu.Unlock()

	p.mu.Lock()
	current := p.conn
	p.mu.Unlock()
	if current != nil && !current.IsClosed() {
		return nil
	}

	nc, err := dialNATS(ctx, p.opts, p.log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", p.opts.URL, err)
	}
	p.mu.Lock()
	p.conn = nc
	p.mu.Unlock()
	p.log.Info("nats publisher connected", zap.String("url", nc.ConnectedUrl()))
	return nil
}

func (p *NATSPublisher) Publish(ctx context.Context, b Batch, key string) error {
	p.mu.Lock()
	nc := p.conn
	p.mu.Unlock()
	if nc == nil || nc.IsClosed() {
		return ErrNotConnected
	}

	payload, err := p.codec.Marshal(b)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.dest.Subject(key))
	msg.Data = payload
	msg.Header.Set(headerContentType, p.codec.ContentType())
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.opts.FlushTimeout)
	defer cancel()
	if err := nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.FlushTimeout(p.opts.FlushTimeout)
	p.conn.Close()
	p.conn = nil
	if err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("flush on close: %w", err)
	}
	return nil
}

// Handler 消费端回调，返回错误只会被记录
type Handler func(routingKey string, b Batch) error

// NATSConsumer 按绑定订阅 NATS，同一 queue group 内的消费者分摊消息
type NATSConsumer struct {
	opts     NATSOptions
	codec    Codec
	dest     Destination
	queue    string
	bindings []string
	log      *zap.Logger
}

func NewNATSConsumer(opts NATSOptions, codec Codec, dest Destination, queue string, bindings []string, l *zap.Logger) *NATSConsumer {
	return &NATSConsumer{opts: opts.withDefaults(), codec: codec, dest: dest, queue: queue, bindings: bindings, log: l}
}

// Consume 订阅全部绑定并阻塞到 ctx 结束
func (c *NATSConsumer) Consume(ctx context.Context, handle Handler) error {
	nc, err := dialNATS(ctx, c.opts, c.log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", c.opts.URL, err)
	}
	defer nc.Close()

	subs, err := c.Subscribe(nc, handle)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()

	<-ctx.Done()
	return nil
}

// Subscribe 在已有连接上订阅全部绑定，订阅在返回前已被服务端确认
func (c *NATSConsumer) Subscribe(nc *nats.Conn, handle Handler) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(c.bindings))
	for _, binding := range c.bindings {
		subject, err := c.dest.Binding(binding, ">")
		if err != nil {
			return nil, err
		}
		sub, err := nc.QueueSubscribe(subject, c.queue, func(msg *nats.Msg) {
			codec := CodecForContentType(msg.Header.Get(headerContentType), c.codec)
			var b Batch
			if err := codec.Unmarshal(msg.Data, &b); err != nil {
				c.log.Error("decode batch failed", zap.String("subject", msg.Subject), zap.Error(err))
				return
			}
			if err := handle(c.dest.Key(msg.Subject), b); err != nil {
				c.log.Warn("batch handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
		c.log.Info("nats consumer subscribed", zap.String("subject", subject), zap.String("queue", c.queue))
	}
	if err := nc.Flush(); err != nil {
		return nil, fmt.Errorf("confirm subscriptions: %w", err)
	}
	return subs, nil
}
