// Package queue 实现采集器与上报器之间唯一的交接点：多写一读的汇聚队列。
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/metrics"
)

// Item 一条采集结果
type Item struct {
	Name  string    `json:"name"`
	Value any       `json:"value"`
	At    time.Time `json:"at"`
}

// DropPolicy 有界队列满时的处理策略
type DropPolicy string

const (
	DropNone   DropPolicy = "none"   // 无界队列（默认）
	DropNewest DropPolicy = "newest" // 拒绝新写入
	DropOldest DropPolicy = "oldest" // 淘汰最旧元素
	DropBlock  DropPolicy = "block"  // 等待空间，超时后拒绝
)

// ErrQueueFull 有界队列丢弃结果时返回
var ErrQueueFull = errors.New("fan-in queue full")

const defaultBlockTimeout = time.Second

// Option 队列选项
type Option func(*Queue)

// WithCapacity 设置容量和满时策略，capacity 为 0 表示无界
func WithCapacity(capacity int, policy DropPolicy) Option {
	return func(q *Queue) {
		q.capacity = capacity
		q.policy = policy
	}
}

// WithBlockTimeout 设置 DropBlock 策略下的最长等待时间
func WithBlockTimeout(d time.Duration) Option {
	return func(q *Queue) { q.blockTimeout = d }
}

// WithMetrics 绑定队列指标
func WithMetrics(m *metrics.QueueMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue 汇聚队列：Put 可被多个采集器并发调用，DrainAll 由上报器独占调用。
// 同一采集器写入的结果保持 FIFO 顺序。
type Queue struct {
	mu           sync.Mutex
	items        []Item
	space        chan struct{} // 每次出队后关闭并替换，用于唤醒阻塞的写者
	capacity     int
	policy       DropPolicy
	blockTimeout time.Duration
	metrics      *metrics.QueueMetrics

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// New 创建队列
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		policy:       DropNone,
		blockTimeout: defaultBlockTimeout,
		space:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.capacity < 0 {
		return nil, errdefs.Configurationf("queue.new", "capacity must be >= 0, got %d", q.capacity)
	}
	if q.capacity == 0 {
		q.policy = DropNone
		return q, nil
	}
	switch q.policy {
	case DropNewest, DropOldest:
	case DropBlock:
		if q.blockTimeout <= 0 {
			return nil, errdefs.Configurationf("queue.new", "block timeout must be > 0, got %s", q.blockTimeout)
		}
	default:
		return nil, errdefs.Configurationf("queue.new", "bounded queue needs a drop policy (newest/oldest/block), got %q", q.policy)
	}
	return q, nil
}

// Put 写入一条结果。无界队列从不阻塞；有界队列丢弃时返回 ErrQueueFull，并计入 Dropped。
func (q *Queue) Put(item Item) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.push(item)
			q.mu.Unlock()
			return nil
		}

		switch q.policy {
		case DropOldest:
			evicted := q.items[0]
			q.items = q.items[1:]
			q.push(item)
			q.mu.Unlock()
			q.drop()
			return fmt.Errorf("%w: evicted oldest result of %q", ErrQueueFull, evicted.Name)
		case DropBlock:
			space := q.space
			q.mu.Unlock()
			if timer == nil {
				timer = time.NewTimer(q.blockTimeout)
			}
			select {
			case <-space:
				continue
			case <-timer.C:
				q.drop()
				return fmt.Errorf("%w: gave up after %s", ErrQueueFull, q.blockTimeout)
			}
		default:
			q.mu.Unlock()
			q.drop()
			return fmt.Errorf("%w: rejected result of %q", ErrQueueFull, item.Name)
		}
	}
}

// DrainAll 原子地取出当前所有结果，队列清空
func (q *Queue) DrainAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	close(q.space)
	q.space = make(chan struct{})
	q.metrics.SetDepth(0)

	if items == nil {
		return []Item{}
	}
	return items
}

// Len 当前排队数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueued 累计接受数量
func (q *Queue) Enqueued() uint64 { return q.enqueued.Load() }

// Dropped 累计丢弃数量
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Capacity 容量，0 表示无界
func (q *Queue) Capacity() int { return q.capacity }

// caller must hold q.mu
func (q *Queue) push(item Item) {
	q.items = append(q.items, item)
	q.enqueued.Add(1)
	q.metrics.Enqueue()
	q.metrics.SetDepth(len(q.items))
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	q.metrics.Drop()
}
