// Package ring 提供定长、按插入顺序保存的环形缓冲区，满时淘汰最旧元素。
package ring

import (
	"sync"

	"github.com/simstream/pkg/errdefs"
)

// Buffer 环形缓冲区（一个写者，多个读者）
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // 最旧元素下标
	size  int
}

// New 创建容量为 limit 的缓冲区，limit 必须 >= 1
func New[T any](limit int) (*Buffer[T], error) {
	if limit < 1 {
		return nil, errdefs.Configurationf("ring.new", "limit must be >= 1, got %d", limit)
	}
	return &Buffer[T]{items: make([]T, limit)}, nil
}

// Append 追加到尾部，超出容量时淘汰头部
func (b *Buffer[T]) Append(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := len(b.items)
	if b.size < limit {
		b.items[(b.head+b.size)%limit] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % limit
}

// Snapshot 返回全部元素的副本（旧 → 新）
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyRange(0, b.size)
}

// Range 按切片语义返回 [start, end) 的副本。
// 负数下标从尾部计数，越界会被截断，start >= end 时返回空切片。
func (b *Buffer[T]) Range(start, end int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start, end = clamp(start, b.size), clamp(end, b.size)
	if start >= end {
		return []T{}
	}
	return b.copyRange(start, end)
}

// Len 当前元素个数
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Limit 容量
func (b *Buffer[T]) Limit() int { return len(b.items) }

// caller must hold b.mu
func (b *Buffer[T]) copyRange(start, end int) []T {
	out := make([]T, 0, end-start)
	limit := len(b.items)
	for i := start; i < end; i++ {
		out = append(out, b.items[(b.head+i)%limit])
	}
	return out
}

func clamp(i, size int) int {
	if i < 0 {
		i += size
	}
	if i < 0 {
		return 0
	}
	if i > size {
		return size
	}
	return i
}
