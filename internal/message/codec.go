package message

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ContentTypeJSON marks JSON encoded message payloads.
	ContentTypeJSON = "application/json"
	// ContentTypeProtobuf marks payloads encoded as a google.protobuf.Struct.
	ContentTypeProtobuf = "application/x-protobuf"
)

// Decode deserializes a message payload according to its content type.
// An empty content type is treated as JSON.
func Decode(contentType string, payload []byte) (*Message, error) {
	switch contentType {
	case "", ContentTypeJSON:
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if m.Fields == nil {
			m.Fields = make(map[string]any)
		}
		return &m, nil
	case ContentTypeProtobuf:
		return decodeProto(payload)
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

// Encode serializes a message for the given content type.
func Encode(contentType string, m *Message) ([]byte, error) {
	switch contentType {
	case "", ContentTypeJSON:
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		return payload, nil
	case ContentTypeProtobuf:
		return encodeProto(m)
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

func encodeProto(m *Message) ([]byte, error) {
	fields := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = protoCompatible(v)
	}
	st, err := structpb.NewStruct(map[string]any{
		"id":     m.ID,
		"index":  m.Index,
		"fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert message to protobuf struct: %w", err)
	}
	payload, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf message: %w", err)
	}
	return payload, nil
}

func decodeProto(payload []byte) (*Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf message: %w", err)
	}
	raw := st.AsMap()
	m := &Message{Fields: make(map[string]any)}
	m.ID, _ = raw["id"].(string)
	m.Index, _ = raw["index"].(string)
	if fields, ok := raw["fields"].(map[string]any); ok {
		m.Fields = fields
	}
	if m.ID == "" {
		return nil, fmt.Errorf("protobuf message has no id")
	}
	return m, nil
}

// protoCompatible converts values structpb cannot represent directly.
func protoCompatible(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case int64:
		return float64(val)
	default:
		return v
	}
}
