// Package alert provides the alert condition family evaluated by the scheduler.
// Each variant owns its parameter schema and its check logic; a registry maps
// a type tag to the constructor of the variant.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamrouter/internal/message"
	"streamrouter/internal/search"
)

var (
	// ErrUnknownType is returned when no variant is registered for a type tag.
	ErrUnknownType = errors.New("unknown alert condition type")
	// ErrInvalidParameters is returned when a condition's parameters are malformed.
	ErrInvalidParameters = errors.New("invalid alert condition parameters")
)

// Condition is one evaluable threshold rule bound to one stream.
type Condition interface {
	ID() string
	StreamID() string
	Type() string
	Title() string
	// Grace is the suppression window after a triggered result.
	Grace() time.Duration
	// Backlog is the maximum number of evidence messages attached to a result.
	Backlog() int
	// Check evaluates the condition once. A nil result with a nil error means
	// the cycle was skipped.
	Check(ctx context.Context) (*CheckResult, error)
	// Description summarizes the condition's parameters.
	Description() string
}

// CheckResult is the outcome of one evaluation.
type CheckResult struct {
	ID                string            `json:"id"`
	Triggered         bool              `json:"triggered"`
	ConditionID       string            `json:"condition_id"`
	ConditionType     string            `json:"condition_type"`
	StreamID          string            `json:"stream_id"`
	ResultDescription string            `json:"result_description"`
	TriggeredAt       time.Time         `json:"triggered_at"`
	MatchingMessages  []message.Summary `json:"matching_messages"`
}

// NewCheckResult creates a triggered result for the condition.
func NewCheckResult(c Condition, description string, at time.Time, summaries []message.Summary) *CheckResult {
	if summaries == nil {
		summaries = []message.Summary{}
	}
	return &CheckResult{
		ID:                uuid.NewString(),
		Triggered:         true,
		ConditionID:       c.ID(),
		ConditionType:     c.Type(),
		StreamID:          c.StreamID(),
		ResultDescription: description,
		TriggeredAt:       at,
		MatchingMessages:  summaries,
	}
}

// NewNegativeResult creates a not-triggered result for the condition.
func NewNegativeResult(c Condition, at time.Time) *CheckResult {
	return &CheckResult{
		ID:               uuid.NewString(),
		Triggered:        false,
		ConditionID:      c.ID(),
		ConditionType:    c.Type(),
		StreamID:         c.StreamID(),
		TriggeredAt:      at,
		MatchingMessages: []message.Summary{},
	}
}

// Definition is a stored condition as produced by the management layer.
type Definition struct {
	ID            string         `json:"id"`
	StreamID      string         `json:"stream_id"`
	Type          string         `json:"type"`
	Title         string         `json:"title,omitempty"`
	CreatorUserID string         `json:"creator_user_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Parameters    map[string]any `json:"parameters"`
}

// Deps are the collaborators a condition needs to run its check.
type Deps struct {
	Index search.Index
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Base holds the fields shared by every condition variant.
type Base struct {
	id            string
	streamID      string
	conditionType string
	title         string
	creatorUserID string
	createdAt     time.Time
	parameters    map[string]any
	grace         int
	backlog       int

	index search.Index
	now   func() time.Time
}

// NewBase parses the shared parameters (grace, backlog) of a definition.
func NewBase(def Definition, deps Deps) (Base, error) {
	if def.StreamID == "" {
		return Base{}, fmt.Errorf("%w: stream_id is required", ErrInvalidParameters)
	}
	if deps.Index == nil {
		return Base{}, fmt.Errorf("%w: no search index configured", ErrInvalidParameters)
	}
	grace, err := intParam(def.Parameters, "grace", 0)
	if err != nil {
		return Base{}, err
	}
	backlog, err := intParam(def.Parameters, "backlog", 0)
	if err != nil {
		return Base{}, err
	}
	if grace < 0 || backlog < 0 {
		return Base{}, fmt.Errorf("%w: grace and backlog must not be negative", ErrInvalidParameters)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	params := make(map[string]any, len(def.Parameters))
	for k, v := range def.Parameters {
		params[k] = v
	}
	return Base{
		id:            def.ID,
		streamID:      def.StreamID,
		conditionType: def.Type,
		title:         def.Title,
		creatorUserID: def.CreatorUserID,
		createdAt:     def.CreatedAt,
		parameters:    params,
		grace:         grace,
		backlog:       backlog,
		index:         deps.Index,
		now:           now,
	}, nil
}

func (b *Base) ID() string             { return b.id }
func (b *Base) StreamID() string       { return b.streamID }
func (b *Base) Type() string           { return b.conditionType }
func (b *Base) Title() string          { return b.title }
func (b *Base) CreatorUserID() string  { return b.creatorUserID }
func (b *Base) CreatedAt() time.Time   { return b.createdAt }
func (b *Base) Grace() time.Duration   { return time.Duration(b.grace) * time.Minute }
func (b *Base) Backlog() int           { return b.backlog }
func (b *Base) Parameters() map[string]any {
	params := make(map[string]any, len(b.parameters))
	for k, v := range b.parameters {
		params[k] = v
	}
	return params
}

// streamFilter scopes index queries to the owning stream.
func (b *Base) streamFilter() string {
	return b.streamID
}

// backlogSummaries fetches up to Backlog newest messages in rng as evidence.
func (b *Base) backlogSummaries(ctx context.Context, query search.Query, rng search.AbsoluteRange) ([]message.Summary, error) {
	summaries := make([]message.Summary, 0, b.backlog)
	if b.backlog <= 0 {
		return summaries, nil
	}
	results, err := b.index.Search(ctx, query, b.streamFilter(), rng, b.backlog, 0, search.ByTimestampDesc)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		summaries = append(summaries, message.NewSummary(res.Index, res.Message))
	}
	return summaries, nil
}

// skipCycle logs a range error and reports a skipped cycle.
func (b *Base) skipCycle(window int, err error) (*CheckResult, error) {
	slog.Error("Invalid time range, skipping alert check",
		"condition_id", b.id,
		"stream_id", b.streamID,
		"time", window,
		"error", err,
	)
	return nil, nil
}

// Factory constructs a condition variant from its definition.
type Factory func(def Definition, deps Deps) (Condition, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a condition variant available under the type tag.
// Registering the same tag twice replaces the earlier factory.
func Register(conditionType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(conditionType)] = factory
}

// New builds the condition described by def using the registered factory.
func New(def Definition, deps Deps) (Condition, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(def.Type)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
	}
	return factory(def, deps)
}

// Types returns the registered type tags, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// intParam reads an integer parameter that may arrive as a JSON number or string.
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %s is not a finite number", ErrInvalidParameters, key)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidParameters, key, n)
		}
		return int(parsed), nil
	default:
		return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParameters, key, v)
	}
}

// stringParam reads a string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameters, key)
	}
	return s, nil
}
