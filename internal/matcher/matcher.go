// Package matcher evaluates stream rules against messages and combines the
// per-rule results into a stream decision.
//
// Matching modes:
//   - EXACT and CONTAINS compare the string form of the field value and are case-sensitive.
//   - REGEX searches the string form of the field value (unanchored, like regexp.MatchString);
//     patterns that need a full match must anchor themselves with ^ and $.
//   - GREATER_THAN and SMALLER_THAN compare numerically; non-numeric values never match.
//   - PRESENCE only checks that the field key exists.
//
// Every absent field or type mismatch degrades to false before the rule's
// inversion is applied.
package matcher

import (
	"strconv"
	"strings"
	"time"

	"streamrouter/internal/message"
	"streamrouter/internal/streams"
)

// Matches reports whether a single rule matches the message.
func Matches(rule *streams.StreamRule, msg *message.Message) bool {
	if rule == nil {
		return false
	}
	return raw(rule, msg) != rule.Inverted
}

// raw evaluates the rule without inversion.
func raw(rule *streams.StreamRule, msg *message.Message) bool {
	value, ok := msg.Field(rule.Field)
	if rule.Type == streams.RulePresence {
		return ok
	}
	if !ok || value == nil {
		return false
	}

	switch rule.Type {
	case streams.RuleExact:
		s, ok := asString(value)
		return ok && s == rule.Value
	case streams.RuleContains:
		s, ok := asString(value)
		return ok && strings.Contains(s, rule.Value)
	case streams.RuleRegex:
		s, ok := asString(value)
		if !ok {
			return false
		}
		re := rule.Pattern()
		return re != nil && re.MatchString(s)
	case streams.RuleGreaterThan, streams.RuleSmallerThan:
		n, ok := asNumber(value)
		if !ok {
			return false
		}
		threshold, ok := rule.Threshold()
		if !ok {
			return false
		}
		if rule.Type == streams.RuleGreaterThan {
			return n > threshold
		}
		return n < threshold
	default:
		return false
	}
}

// asString converts a scalar field value to its string form.
// Numbers use the shortest representation, so 15.0 becomes "15".
func asString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case bool:
		return strconv.FormatBool(val), true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// asNumber converts a field value to float64. Numeric strings are parsed.
func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
