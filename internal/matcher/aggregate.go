package matcher

import (
	"streamrouter/internal/message"
	"streamrouter/internal/streams"
)

// RuleMatches evaluates every rule of the stream against the message.
// Returns a map of rule_id -> result. Nil rules are skipped.
func RuleMatches(stream *streams.Stream, msg *message.Message) map[string]bool {
	results := make(map[string]bool, len(stream.Rules))
	for _, rule := range stream.Rules {
		if rule == nil {
			continue
		}
		results[rule.ID] = Matches(rule, msg)
	}
	return results
}

// StreamMatches combines per-rule results according to the stream's matching type.
//
// Under MatchAll a stream without rules matches every message: no rule means
// no restriction. Under MatchAny a stream without rules never matches.
func StreamMatches(stream *streams.Stream, results map[string]bool) bool {
	if stream.MatchingType == streams.MatchAny {
		for _, matched := range results {
			if matched {
				return true
			}
		}
		return false
	}

	for _, matched := range results {
		if !matched {
			return false
		}
	}
	return true
}

// StreamMatchesMessage evaluates the stream against the message, stopping at
// the first rule that decides the outcome.
func StreamMatchesMessage(stream *streams.Stream, msg *message.Message) bool {
	if stream.MatchingType == streams.MatchAny {
		for _, rule := range stream.Rules {
			if Matches(rule, msg) {
				return true
			}
		}
		return false
	}

	for _, rule := range stream.Rules {
		if !Matches(rule, msg) {
			return false
		}
	}
	return true
}
