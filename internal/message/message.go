// Package message defines the structured log message consumed by the router
// and the summaries attached to alert check results.
package message

import (
	"time"
)

const (
	// FieldTimestamp is the field holding the message timestamp.
	FieldTimestamp = "timestamp"
	// FieldSource is the field holding the originating host or service.
	FieldSource = "source"
	// FieldMessage is the field holding the short message text.
	FieldMessage = "message"
	// FieldStreams is the field the router tags with matching stream IDs.
	FieldStreams = "streams"
)

// Message is an immutable mapping from field name to scalar value plus an
// identifier and the index the message lives in.
// Values are strings, float64/int64 numbers, bools or time.Time.
type Message struct {
	ID     string         `json:"id"`
	Index  string         `json:"index,omitempty"`
	Fields map[string]any `json:"fields"`
}

// New creates a message with a copy of the given fields.
func New(id string, fields map[string]any) *Message {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &Message{
		ID:     id,
		Fields: copied,
	}
}

// Field returns the value of a field and whether the key is present.
func (m *Message) Field(name string) (any, bool) {
	if m == nil || m.Fields == nil {
		return nil, false
	}
	v, ok := m.Fields[name]
	return v, ok
}

// Timestamp returns the message timestamp, or the zero time if the field is
// absent or cannot be interpreted.
func (m *Message) Timestamp() time.Time {
	v, ok := m.Field(FieldTimestamp)
	if !ok {
		return time.Time{}
	}
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return parsed.UTC()
		}
	case float64:
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case int64:
		return time.Unix(ts, 0).UTC()
	}
	return time.Time{}
}

// WithStreams returns a copy of the message tagged with the given stream IDs.
// The receiver is left untouched.
func (m *Message) WithStreams(streamIDs []string) *Message {
	tagged := New(m.ID, m.Fields)
	tagged.Index = m.Index
	ids := make([]string, len(streamIDs))
	copy(ids, streamIDs)
	tagged.Fields[FieldStreams] = ids
	return tagged
}

// Summary is the evidence attached to a triggered check result.
type Summary struct {
	Index     string         `json:"index"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewSummary builds a summary of a message stored in the given index.
func NewSummary(index string, m *Message) Summary {
	s := Summary{
		Index:     index,
		ID:        m.ID,
		Timestamp: m.Timestamp(),
		Fields:    make(map[string]any, len(m.Fields)),
	}
	for k, v := range m.Fields {
		switch k {
		case FieldSource:
			s.Source, _ = v.(string)
		case FieldMessage:
			s.Message, _ = v.(string)
		case FieldTimestamp, FieldStreams:
		default:
			s.Fields[k] = v
		}
	}
	return s
}
