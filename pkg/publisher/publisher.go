// Package publisher 把每个上报周期的汇聚结果发送到消息中间件。
// 上报器是连接的唯一持有者；重连策略由具体适配器负责。
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Aggregate 一个周期内 采集器名称 → 按入队顺序排列的结果
type Aggregate map[string][]any

// Batch 线上消息格式
type Batch struct {
	Source    string    `json:"source"`   // 上报器实例 ID
	Sequence  uint64    `json:"sequence"` // 单个上报器内单调递增
	Timestamp time.Time `json:"timestamp"`
	Data      Aggregate `json:"data"`
}

// Publisher 消息发布接口（所有中间件适配器必须实现）
type Publisher interface {
	// Connect 建立连接，可重复调用
	Connect(ctx context.Context) error
	// Publish 发送一个批次到 routingKey
	Publish(ctx context.Context, batch Batch, routingKey string) error
	AddRoutingKey(key string) error
	RemoveRoutingKey(key string)
	RoutingKeys() []string
	// Close 刷新未发送的数据并关闭连接
	Close(ctx context.Context) error
}

var (
	ErrNotConnected   = errors.New("publisher not connected")
	ErrInvalidKey     = errors.New("invalid routing key")
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrUnknownBroker  = errors.New("unknown broker kind")
	ErrDirectWildcard = errors.New("direct exchange does not accept wildcard bindings")
)

// Routes 发布目标集合，供各适配器嵌入，可并发增删
type Routes struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// AddRoutingKey 增加发布目标，发布用的 key 不能包含通配符
func (r *Routes) AddRoutingKey(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = make(map[string]struct{})
	}
	r.keys[key] = struct{}{}
	return nil
}

// RemoveRoutingKey 移除发布目标，不存在时忽略
func (r *Routes) RemoveRoutingKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
}

// RoutingKeys 返回排序后的发布目标
func (r *Routes) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.keys))
	for k := range r.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, "*#> \t\n") {
		return fmt.Errorf("%w: %q contains wildcard or whitespace", ErrInvalidKey, key)
	}
	for _, word := range strings.Split(key, ".") {
		if word == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidKey, key)
		}
	}
	return nil
}
