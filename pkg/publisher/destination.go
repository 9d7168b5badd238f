package publisher

import (
	"fmt"
	"strings"
)

// ExchangeType 路由方式
type ExchangeType string

const (
	ExchangeDirect ExchangeType = "direct" // 精确匹配 routing key
	ExchangeTopic  ExchangeType = "topic"  // 消费端可使用 * 和 # 通配
)

// Destination 把 routing key 映射到中间件的 subject / channel：exchange.key
type Destination struct {
	Exchange string
	Type     ExchangeType
}

// Subject 发布用的 subject
func (d Destination) Subject(key string) string {
	if d.Exchange == "" {
		return key
	}
	return d.Exchange + "." + key
}

// Key 从 subject 还原 routing key
func (d Destination) Key(subject string) string {
	if d.Exchange == "" {
		return subject
	}
	return strings.TrimPrefix(subject, d.Exchange+".")
}

// Binding 把消费端的绑定（AMQP 风格：* 匹配一个单词，# 匹配零或多个单词）
// 转成中间件的订阅 subject，multi 是中间件的多段通配符。
func (d Destination) Binding(binding, multi string) (string, error) {
	if binding == "" {
		return "", fmt.Errorf("%w: empty binding", ErrInvalidKey)
	}
	if d.Type == ExchangeDirect {
		if strings.ContainsAny(binding, "*#>") {
			return "", fmt.Errorf("%w: %q", ErrDirectWildcard, binding)
		}
		return d.Subject(binding), nil
	}

	words := strings.Split(binding, ".")
	for i, w := range words {
		if w == "#" {
			if i != len(words)-1 {
				return "", fmt.Errorf("%w: %q, # is only supported as the last segment", ErrInvalidKey, binding)
			}
			words[i] = multi
		}
	}
	return d.Subject(strings.Join(words, ".")), nil
}

// Matches 按 topic 规则判断 routing key 是否命中绑定
func (d Destination) Matches(binding, key string) bool {
	if d.Type == ExchangeDirect {
		return binding == key
	}
	return matchWords(strings.Split(binding, "."), strings.Split(key, "."))
}

func matchWords(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchWords(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchWords(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchWords(pattern[1:], words[1:])
	}
}

// ParseExchangeType 解析配置中的 exchange 类型，空值按 topic 处理
func ParseExchangeType(s string) (ExchangeType, error) {
	switch ExchangeType(strings.ToLower(s)) {
	case "", ExchangeTopic:
		return ExchangeTopic, nil
	case ExchangeDirect:
		return ExchangeDirect, nil
	default:
		return "", fmt.Errorf("unsupported exchange type %q (direct|topic)", s)
	}
}
