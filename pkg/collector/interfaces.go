package collector

import (
	"context"

	"github.com/simstream/pkg/queue"
)

// Measurer 采集回调（所有测量源必须实现），参数由闭包捕获
type Measurer interface {
	Measure(ctx context.Context) (any, error) // 产出一次测量结果
}

// MeasurerFunc 函数适配器
type MeasurerFunc func(ctx context.Context) (any, error)

func (f MeasurerFunc) Measure(ctx context.Context) (any, error) { return f(ctx) }

// PostProcessor 后处理器：对测量结果做转换或检查，返回错误时本次结果丢弃
type PostProcessor interface {
	Apply(ctx context.Context, v any) (any, error)
}

// PostProcessorFunc 函数适配器
type PostProcessorFunc func(ctx context.Context, v any) (any, error)

func (f PostProcessorFunc) Apply(ctx context.Context, v any) (any, error) { return f(ctx, v) }

// Chain 依次执行多个后处理器
type Chain []PostProcessor

func (c Chain) Apply(ctx context.Context, v any) (any, error) {
	var err error
	for _, p := range c {
		if v, err = p.Apply(ctx, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Sink 采集结果的去向，通常是汇聚队列
type Sink interface {
	Put(item queue.Item) error
}
