// Package events defines the event structure of the streams.changed topic.
package events

import (
	"encoding/json"
	"fmt"
)

// Stream change actions.
const (
	ActionCreated      = "CREATED"
	ActionUpdated      = "UPDATED"
	ActionDeleted      = "DELETED"
	ActionDisabled     = "DISABLED"
	ActionEnabled      = "ENABLED"
	ActionRulesChanged = "RULES_CHANGED"
)

// StreamChanged is emitted by the stream management side whenever a stream
// or one of its rules is created, edited, paused or removed.
type StreamChanged struct {
	StreamID      string `json:"stream_id"`
	Action        string `json:"action"`
	Version       int64  `json:"version"`
	UpdatedAt     int64  `json:"updated_at"` // Unix timestamp
	SchemaVersion int    `json:"schema_version"`
}

// DecodeStreamChanged parses and validates a streams.changed payload.
func DecodeStreamChanged(data []byte) (*StreamChanged, error) {
	var ev StreamChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream changed event: %w", err)
	}
	switch ev.Action {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionDisabled, ActionEnabled, ActionRulesChanged:
	default:
		return nil, fmt.Errorf("unknown stream change action %q", ev.Action)
	}
	return &ev, nil
}
