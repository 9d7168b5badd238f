package measure

import (
	"context"
	"fmt"
	"regexp"

	"github.com/simstream/pkg/collector"
)

// Scale 把结果中 field 字段乘以 factor；field 为空时缩放结果本身
// 数值统一转换为 float64，数值数组逐个缩放
func Scale(field string, factor float64) collector.PostProcessorFunc {
	return func(_ context.Context, v any) (any, error) {
		if field == "" {
			return scaleValue(v, factor)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("scale %q: result is %T, want map", field, v)
		}
		raw, ok := m[field]
		if !ok {
			return nil, fmt.Errorf("scale %q: field missing", field)
		}
		scaled, err := scaleValue(raw, factor)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", field, err)
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		out[field] = scaled
		return out, nil
	}
}

func scaleValue(v any, factor float64) (any, error) {
	if xs, ok := v.([]float64); ok {
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = x * factor
		}
		return out, nil
	}
	f, ok := ToFloat(v)
	if !ok {
		return nil, fmt.Errorf("value %T is not numeric", v)
	}
	return f * factor, nil
}

// ToFloat 把常见数值类型转换为 float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MatchLines 只保留匹配 pattern 的行，结果必须是行列表
func MatchLines(pattern string) (collector.PostProcessorFunc, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return func(_ context.Context, v any) (any, error) {
		var lines []string
		switch l := v.(type) {
		case []string:
			lines = l
		case []any:
			for _, x := range l {
				s, ok := x.(string)
				if !ok {
					return nil, fmt.Errorf("match: element %T is not a string", x)
				}
				lines = append(lines, s)
			}
		default:
			return nil, fmt.Errorf("match: result is %T, want lines", v)
		}
		kept := []string{}
		for _, line := range lines {
			if re.MatchString(line) {
				kept = append(kept, line)
			}
		}
		return kept, nil
	}, nil
}
