package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"streamrouter/internal/search"
)

// TypeMessageCount is the type tag of MessageCountCondition.
const TypeMessageCount = "message_count"

// ThresholdType selects the direction a message count must cross.
type ThresholdType string

const (
	ThresholdMore ThresholdType = "MORE"
	ThresholdLess ThresholdType = "LESS"
)

// phrase is the lower case form used in descriptions.
func (t ThresholdType) phrase() string {
	return strings.ToLower(string(t))
}

// ParseThresholdType accepts MORE or LESS, case-insensitive.
func ParseThresholdType(s string) (ThresholdType, error) {
	switch ThresholdType(strings.ToUpper(strings.TrimSpace(s))) {
	case ThresholdMore:
		return ThresholdMore, nil
	case ThresholdLess:
		return ThresholdLess, nil
	default:
		return "", fmt.Errorf("%w: threshold_type must be MORE or LESS, got %q", ErrInvalidParameters, s)
	}
}

func init() {
	Register(TypeMessageCount, func(def Definition, deps Deps) (Condition, error) {
		return NewMessageCountCondition(def, deps)
	})
}

// MessageCountCondition triggers when the number of messages in a stream over
// the last Time minutes is more or less than Threshold.
type MessageCountCondition struct {
	Base
	time          int
	threshold     int
	thresholdType ThresholdType
}

// NewMessageCountCondition parses time, threshold and threshold_type.
// The window is not validated here: a negative window is reported by the
// range computation and makes every check skip.
func NewMessageCountCondition(def Definition, deps Deps) (*MessageCountCondition, error) {
	if def.Type == "" {
		def.Type = TypeMessageCount
	}
	base, err := NewBase(def, deps)
	if err != nil {
		return nil, err
	}
	window, err := intParam(def.Parameters, "time", 0)
	if err != nil {
		return nil, err
	}
	threshold, err := intParam(def.Parameters, "threshold", 0)
	if err != nil {
		return nil, err
	}
	rawType, err := stringParam(def.Parameters, "threshold_type")
	if err != nil {
		return nil, err
	}
	thresholdType, err := ParseThresholdType(rawType)
	if err != nil {
		return nil, err
	}
	return &MessageCountCondition{
		Base:          base,
		time:          window,
		threshold:     threshold,
		thresholdType: thresholdType,
	}, nil
}

// Description summarizes the condition parameters.
func (c *MessageCountCondition) Description() string {
	return fmt.Sprintf("time: %d, threshold_type: %s, threshold: %d, grace: %d",
		c.time, c.thresholdType.phrase(), c.threshold, c.grace)
}

// Check counts the stream's messages in the window and compares the count to the threshold.
//
// The window is frozen into one absolute range before any query runs, and the
// count and backlog queries both use that range, so the evidence always comes
// from the interval that was counted.
//
// A malformed range is a configuration bug, not a transient fault: it is
// logged and the cycle is skipped by returning a nil result and a nil error.
// Other index errors, timeouts included, are returned to the scheduler.
func (c *MessageCountCondition) Check(ctx context.Context) (*CheckResult, error) {
	now := c.now().UTC()
	rng, err := search.RelativeRange{Minutes: c.time}.Absolute(now)
	if err != nil {
		return c.skipCycle(c.time, err)
	}

	query := search.Query{}
	count, err := c.index.Count(ctx, query, rng, c.streamFilter())
	if err != nil {
		if errors.Is(err, search.ErrInvalidRange) {
			return c.skipCycle(c.time, err)
		}
		return nil, fmt.Errorf("count query for condition %s failed: %w", c.id, err)
	}

	slog.Debug("Alert check result",
		"condition_id", c.id,
		"stream_id", c.streamID,
		"count", count,
		"range", rng.String(),
	)

	if !c.triggered(count) {
		return NewNegativeResult(c, now), nil
	}

	summaries, err := c.backlogSummaries(ctx, query, rng)
	if err != nil {
		if errors.Is(err, search.ErrInvalidRange) {
			return c.skipCycle(c.time, err)
		}
		return nil, fmt.Errorf("backlog query for condition %s failed: %w", c.id, err)
	}

	description := fmt.Sprintf("Stream had %d messages in the last %d minutes with trigger condition %s than %d messages. (Current grace time: %d minutes)",
		count, c.time, c.thresholdType.phrase(), c.threshold, c.grace)
	return NewCheckResult(c, description, now, summaries), nil
}

func (c *MessageCountCondition) triggered(count int64) bool {
	switch c.thresholdType {
	case ThresholdMore:
		return count > int64(c.threshold)
	case ThresholdLess:
		return count < int64(c.threshold)
	default:
		return false
	}
}
