package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 上报配置校验
func (r *ReporterConfig) Validate() error {
	if err := valid.Struct(r); err != nil {
		return err
	}
	if r.Interval < 10*time.Millisecond {
		return fmt.Errorf("reporter.interval must be >= 10ms, got %s", r.Interval)
	}

	seen := map[string]bool{}
	for _, key := range r.RoutingKeys {
		if strings.ContainsAny(key, "*#> \t") {
			return fmt.Errorf("reporter.routing_keys: %q must not contain wildcards or whitespace", key)
		}
		if seen[key] {
			return fmt.Errorf("reporter.routing_keys duplicated entry: %q", key)
		}
		seen[key] = true
	}

	// 有界队列必须明确满时策略，无界队列不允许配置策略
	q := r.Queue
	switch {
	case q.Capacity > 0 && q.DropPolicy == "none":
		return fmt.Errorf("reporter.queue.drop_policy must be newest/oldest/block when capacity is %d", q.Capacity)
	case q.Capacity == 0 && q.DropPolicy != "none":
		return fmt.Errorf("reporter.queue.drop_policy %q requires capacity > 0", q.DropPolicy)
	case q.DropPolicy == "block" && q.BlockTimeout <= 0:
		return errors.New("reporter.queue.block_timeout must be > 0 for the block policy")
	}
	return nil
}

// Validate 中间件配置校验
func (b *BrokerConfig) Validate() error {
	if err := valid.Struct(b); err != nil {
		return err
	}
	switch b.Kind {
	case "nats":
		if b.URL == "" {
			return errors.New("broker.url is required for nats (e.g. nats://127.0.0.1:4222)")
		}
	case "redis":
		if !strings.HasPrefix(b.URL, "redis://") && !strings.HasPrefix(b.URL, "rediss://") {
			return fmt.Errorf("broker.url must be redis:// or rediss:// for redis, got %q", b.URL)
		}
	}
	return nil
}

// validateCollectors 名称在同一个上报器内必须唯一
func validateCollectors(cols []CollectorConfig) error {
	seen := map[string]bool{}
	for i, col := range cols {
		if strings.TrimSpace(col.Name) != col.Name {
			return fmt.Errorf("collectors[%d].name %q has surrounding whitespace", i, col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("collectors duplicated name: %q", col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}
