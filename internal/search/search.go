// Package search defines the contract of the message search index used by
// alert conditions: count and retrieval queries over an absolute time range.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamrouter/internal/message"
)

// ErrInvalidRange is returned when a time range is malformed.
var ErrInvalidRange = errors.New("invalid time range")

// RelativeRange is a window of Minutes ending "now".
type RelativeRange struct {
	Minutes int
}

// Absolute freezes the relative range into [now-Minutes, now).
// Both ends are computed from the single now value.
func (r RelativeRange) Absolute(now time.Time) (AbsoluteRange, error) {
	if r.Minutes < 0 {
		return AbsoluteRange{}, fmt.Errorf("%w: negative window of %d minutes", ErrInvalidRange, r.Minutes)
	}
	to := now.UTC()
	return AbsoluteRange{
		From: to.Add(-time.Duration(r.Minutes) * time.Minute),
		To:   to,
	}, nil
}

// AbsoluteRange is the half-open interval [From, To).
type AbsoluteRange struct {
	From time.Time
	To   time.Time
}

// Validate returns ErrInvalidRange if the range is unset or inverted.
func (r AbsoluteRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: range bounds must be set", ErrInvalidRange)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: range ends (%s) before it starts (%s)", ErrInvalidRange,
			r.To.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

func (r AbsoluteRange) String() string {
	return r.From.Format(time.RFC3339) + " - " + r.To.Format(time.RFC3339)
}

// Query selects messages. The zero value matches every message.
type Query struct {
	Field string
	Value string
}

// MatchAll reports whether the query selects every message.
func (q Query) MatchAll() bool {
	return q.Field == ""
}

func (q Query) String() string {
	if q.MatchAll() {
		return "*"
	}
	return fmt.Sprintf("%s:%q", q.Field, q.Value)
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Sorting orders search results by a field.
type Sorting struct {
	Field     string
	Direction Direction
}

// ByTimestampDesc sorts newest first.
var ByTimestampDesc = Sorting{Field: message.FieldTimestamp, Direction: Descending}

// Result is one message returned by a search, with the index it was found in.
type Result struct {
	Index   string
	Message *message.Message
}

// Index answers count and retrieval queries scoped to one stream.
// Implementations must return an error wrapping ErrInvalidRange for malformed ranges.
type Index interface {
	Count(ctx context.Context, query Query, rng AbsoluteRange, streamID string) (int64, error)
	Search(ctx context.Context, query Query, streamID string, rng AbsoluteRange, limit, offset int, sort Sorting) ([]Result, error)
}
