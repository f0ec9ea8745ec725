// Package streams defines streams, their rules and the creation-time checks
// that keep rule definitions well formed.
package streams

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidRule is returned when a rule's type and value are incompatible.
var ErrInvalidRule = errors.New("invalid stream rule")

// RuleType identifies how a rule compares a message field.
// The integer codes are the ones stored by the management layer.
type RuleType int

const (
	RuleExact       RuleType = 1
	RuleRegex       RuleType = 2
	RuleGreaterThan RuleType = 3
	RuleSmallerThan RuleType = 4
	RulePresence    RuleType = 5
	RuleContains    RuleType = 6
)

var ruleTypeNames = map[RuleType]string{
	RuleExact:       "EXACT",
	RuleRegex:       "REGEX",
	RuleGreaterThan: "GREATER_THAN",
	RuleSmallerThan: "SMALLER_THAN",
	RulePresence:    "PRESENCE",
	RuleContains:    "CONTAINS",
}

func (t RuleType) String() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RuleType(%d)", int(t))
}

// ParseRuleType accepts either the name (case-insensitive) or the integer code.
func ParseRuleType(s string) (RuleType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range ruleTypeNames {
		if name == upper {
			return t, nil
		}
	}
	if code, err := strconv.Atoi(upper); err == nil {
		if _, ok := ruleTypeNames[RuleType(code)]; ok {
			return RuleType(code), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, s)
}

// MatchingType is the policy combining a stream's rule results.
type MatchingType string

const (
	// MatchAll requires every rule to match. A stream without rules matches everything.
	MatchAll MatchingType = "ALL"
	// MatchAny requires at least one rule to match. A stream without rules matches nothing.
	MatchAny MatchingType = "ANY"
)

// ParseMatchingType accepts ALL/AND and ANY/OR, case-insensitive. Empty defaults to MatchAll.
func ParseMatchingType(s string) (MatchingType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "ALL":
		return MatchAll, nil
	case "OR", "ANY":
		return MatchAny, nil
	default:
		return "", fmt.Errorf("unknown matching type %q", s)
	}
}

// StreamRule is one predicate contributing to a stream's match decision.
type StreamRule struct {
	ID       string   `json:"id"`
	StreamID string   `json:"stream_id"`
	Type     RuleType `json:"type"`
	Field    string   `json:"field"`
	Value    string   `json:"value"`
	Inverted bool     `json:"inverted"`

	compiled bool
	pattern  *regexp.Regexp
	number   float64
}

// NewStreamRule validates a rule definition and prepares it for matching.
// Incompatible type/value combinations are rejected here so that matching
// never has to fail.
func NewStreamRule(id, streamID string, ruleType RuleType, field, value string, inverted bool) (*StreamRule, error) {
	r := &StreamRule{
		ID:       id,
		StreamID: streamID,
		Type:     ruleType,
		Field:    field,
		Value:    value,
		Inverted: inverted,
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// compile validates the rule and caches its parsed comparison value.
func (r *StreamRule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("%w: rule %s has no field", ErrInvalidRule, r.ID)
	}
	switch r.Type {
	case RuleExact, RuleContains:
		if r.Value == "" {
			return fmt.Errorf("%w: rule %s of type %s requires a value", ErrInvalidRule, r.ID, r.Type)
		}
	case RuleRegex:
		re, err := regexp.Compile(r.Value)
		if err != nil {
			return fmt.Errorf("%w: rule %s has malformed pattern: %v", ErrInvalidRule, r.ID, err)
		}
		r.pattern = re
	case RuleGreaterThan, RuleSmallerThan:
		n, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			return fmt.Errorf("%w: rule %s of type %s requires a numeric value, got %q", ErrInvalidRule, r.ID, r.Type, r.Value)
		}
		r.number = n
	case RulePresence:
	default:
		return fmt.Errorf("%w: rule %s has unknown type %d", ErrInvalidRule, r.ID, int(r.Type))
	}
	r.compiled = true
	return nil
}

// Pattern returns the compiled pattern of a REGEX rule. Rules that never went
// through NewStreamRule or Prepare are compiled on the fly; nil means the
// pattern is malformed.
func (r *StreamRule) Pattern() *regexp.Regexp {
	if r.compiled {
		return r.pattern
	}
	re, err := regexp.Compile(r.Value)
	if err != nil {
		return nil
	}
	return re
}

// Threshold returns the numeric comparison value of a GREATER_THAN or
// SMALLER_THAN rule.
func (r *StreamRule) Threshold() (float64, bool) {
	if r.compiled {
		return r.number, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Stream is a named subscription collecting messages that match its rules.
type Stream struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Disabled     bool          `json:"disabled"`
	MatchingType MatchingType  `json:"matching_type"`
	Rules        []*StreamRule `json:"rules"`
}

// Enabled reports whether the stream participates in routing and alerting.
func (s *Stream) Enabled() bool {
	return s != nil && !s.Disabled
}

// Prepare validates every rule of a stream that was built outside of
// NewStreamRule, for example after JSON decoding.
func (s *Stream) Prepare() error {
	if s.MatchingType == "" {
		s.MatchingType = MatchAll
	}
	for _, r := range s.Rules {
		if r.StreamID == "" {
			r.StreamID = s.ID
		}
		if err := r.compile(); err != nil {
			return fmt.Errorf("stream %s: %w", s.ID, err)
		}
	}
	return nil
}

// FilterEnabled returns the enabled streams, preserving order.
func FilterEnabled(all []*Stream) []*Stream {
	out := make([]*Stream, 0, len(all))
	for _, s := range all {
		if s.Enabled() {
			out = append(out, s)
		}
	}
	return out
}
