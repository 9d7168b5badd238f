package publisher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec 批次序列化方式
type Codec interface {
	Marshal(b Batch) ([]byte, error)
	Unmarshal(data []byte, b *Batch) error
	ContentType() string
}

// CodecFor 按名称返回编解码器：json（默认）或 proto
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto", "protobuf":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// CodecForContentType 消费端根据消息头选择解码器，未知时回退到 fallback
func CodecForContentType(contentType string, fallback Codec) Codec {
	switch contentType {
	case JSONCodec{}.ContentType():
		return JSONCodec{}
	case ProtoCodec{}.ContentType():
		return ProtoCodec{}
	default:
		return fallback
	}
}

// JSONCodec encoding/json
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Marshal(b Batch) ([]byte, error) {
	if b.Data == nil {
		b.Data = Aggregate{}
	}
	return json.Marshal(b)
}

func (JSONCodec) Unmarshal(data []byte, b *Batch) error {
	if err := json.Unmarshal(data, b); err != nil {
		return fmt.Errorf("decode json batch: %w", err)
	}
	if b.Data == nil {
		b.Data = Aggregate{}
	}
	return nil
}

// ProtoCodec 以 google.protobuf.Struct 编码，结果值先归一化成 JSON 类型
type ProtoCodec struct{}

func (ProtoCodec) ContentType() string { return "application/x-protobuf" }

func (ProtoCodec) Marshal(b Batch) ([]byte, error) {
	data, err := normalize(b.Data)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(map[string]any{
		"source":    b.Source,
		"sequence":  strconv.FormatUint(b.Sequence, 10),
		"timestamp": b.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode proto batch: %w", err)
	}
	return proto.Marshal(s)
}

func (ProtoCodec) Unmarshal(data []byte, b *Batch) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode proto batch: %w", err)
	}
	m := s.AsMap()

	out := Batch{Data: Aggregate{}}
	out.Source, _ = m["source"].(string)
	if seq, ok := m["sequence"].(string); ok {
		n, err := strconv.ParseUint(seq, 10, 64)
		if err != nil {
			return fmt.Errorf("decode proto batch sequence: %w", err)
		}
		out.Sequence = n
	}
	if ts, ok := m["timestamp"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("decode proto batch timestamp: %w", err)
		}
		out.Timestamp = t
	}
	if agg, ok := m["data"].(map[string]any); ok {
		for name, v := range agg {
			values, ok := v.([]any)
			if !ok {
				return fmt.Errorf("decode proto batch: data[%q] is %T, want list", name, v)
			}
			out.Data[name] = values
		}
	}
	*b = out
	return nil
}

// normalize 通过一次 JSON 往返把任意结果转成 structpb 支持的类型
func normalize(agg Aggregate) (map[string]any, error) {
	if agg == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("normalize batch data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize batch data: %w", err)
	}
	return out, nil
}
