package alert

import (
	"context"
	"errors"
	"fmt"

	"streamrouter/internal/search"
)

// TypeFieldContentValue is the type tag of FieldContentValueCondition.
const TypeFieldContentValue = "field_content_value"

func init() {
	Register(TypeFieldContentValue, func(def Definition, deps Deps) (Condition, error) {
		return NewFieldContentValueCondition(def, deps)
	})
}

// FieldContentValueCondition triggers when at least one message of the stream
// within the last Time minutes has Field set to Value.
type FieldContentValueCondition struct {
	Base
	field string
	value string
	time  int
}

// NewFieldContentValueCondition parses field, value and the optional time
// window (default one minute).
func NewFieldContentValueCondition(def Definition, deps Deps) (*FieldContentValueCondition, error) {
	if def.Type == "" {
		def.Type = TypeFieldContentValue
	}
	base, err := NewBase(def, deps)
	if err != nil {
		return nil, err
	}
	field, err := stringParam(def.Parameters, "field")
	if err != nil {
		return nil, err
	}
	if field == "" {
		return nil, fmt.Errorf("%w: field must not be empty", ErrInvalidParameters)
	}
	value, err := stringParam(def.Parameters, "value")
	if err != nil {
		return nil, err
	}
	window, err := intParam(def.Parameters, "time", 1)
	if err != nil {
		return nil, err
	}
	return &FieldContentValueCondition{
		Base:  base,
		field: field,
		value: value,
		time:  window,
	}, nil
}

func (c *FieldContentValueCondition) Description() string {
	return fmt.Sprintf("field: %s, value: %s, time: %d, grace: %d", c.field, c.value, c.time, c.grace)
}

// Check counts matching messages over a frozen range and attaches the newest
// ones as evidence. Range errors skip the cycle like MessageCountCondition.
func (c *FieldContentValueCondition) Check(ctx context.Context) (*CheckResult, error) {
	now := c.now().UTC()
	rng, err := search.RelativeRange{Minutes: c.time}.Absolute(now)
	if err != nil {
		return c.skipCycle(c.time, err)
	}

	query := search.Query{Field: c.field, Value: c.value}
	count, err := c.index.Count(ctx, query, rng, c.streamFilter())
	if err != nil {
		if errors.Is(err, search.ErrInvalidRange) {
			return c.skipCycle(c.time, err)
		}
		return nil, fmt.Errorf("count query for condition %s failed: %w", c.id, err)
	}
	if count == 0 {
		return NewNegativeResult(c, now), nil
	}

	summaries, err := c.backlogSummaries(ctx, query, rng)
	if err != nil {
		if errors.Is(err, search.ErrInvalidRange) {
			return c.skipCycle(c.time, err)
		}
		return nil, fmt.Errorf("backlog query for condition %s failed: %w", c.id, err)
	}

	description := fmt.Sprintf("Stream received %d messages matching <%s> in the last %d minutes. (Current grace time: %d minutes)",
		count, query, c.time, c.grace)
	return NewCheckResult(c, description, now, summaries), nil
}
