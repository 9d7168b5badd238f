package publisher

import (
	"context"
	"sync"
)

// Published 一次已发布的批次
type Published struct {
	Key   string
	Batch Batch
}

// Memory 进程内发布器，保存全部已发布批次；可注入错误模拟中间件不可用
type Memory struct {
	Routes

	mu        sync.Mutex
	connected bool
	closed    bool
	batches   []Published
	failWith  error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Memory) Publish(_ context.Context, b Batch, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.batches = append(m.batches, Published{Key: key, Batch: b})
	return nil
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	return nil
}

// FailWith 之后的 Publish 都返回 err，传 nil 恢复
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Published 已发布批次的副本
func (m *Memory) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.batches...)
}

func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
