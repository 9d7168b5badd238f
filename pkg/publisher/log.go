package publisher

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher 把批次写入日志，用于没有中间件的本地运行
type LogPublisher struct {
	Routes
	log   *zap.Logger
	codec Codec
	dest  Destination
}

func NewLogPublisher(l *zap.Logger, codec Codec, dest Destination) *LogPublisher {
	return &LogPublisher{log: l, codec: codec, dest: dest}
}

func (p *LogPublisher) Connect(context.Context) error { return nil }

func (p *LogPublisher) Publish(_ context.Context, b Batch, key string) error {
	payload, err := p.codec.Marshal(b)
	if err != nil {
		return err
	}
	p.log.Info("batch",
		zap.String("subject", p.dest.Subject(key)),
		zap.Uint64("sequence", b.Sequence),
		zap.Int("collectors", len(b.Data)),
		zap.Int("bytes", len(payload)),
		zap.ByteString("payload", payload))
	return nil
}

func (p *LogPublisher) Close(context.Context) error {
	_ = p.log.Sync()
	return nil
}
