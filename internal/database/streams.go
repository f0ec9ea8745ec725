package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"streamrouter/internal/streams"
)

const streamColumns = `
		SELECT s.id, s.title, s.disabled, s.matching_type,
		       r.id, r.type, r.field, r.value, r.inverted
		FROM streams s
		LEFT JOIN stream_rules r ON r.stream_id = s.id
`

// LoadAllEnabled retrieves every enabled stream with its rules attached,
// ordered by stream ID. A stream with a rule that fails validation is left
// out and logged.
func (db *DB) LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error) {
	query := streamColumns + `
		WHERE s.disabled = FALSE
		ORDER BY s.id ASC, r.id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled streams: %w", err)
	}
	defer rows.Close()

	return scanStreams(rows)
}

// LoadStream retrieves one stream with its rules, whether enabled or not.
func (db *DB) LoadStream(ctx context.Context, streamID string) (*streams.Stream, error) {
	query := streamColumns + `
		WHERE s.id = $1
		ORDER BY r.id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream: %w", err)
	}
	defer rows.Close()

	all, err := scanStreams(rows)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("stream %s: %w", streamID, ErrNotFound)
	}
	return all[0], nil
}

// scanStreams folds joined stream/rule rows into streams, preserving row order.
func scanStreams(rows *sql.Rows) ([]*streams.Stream, error) {
	var result []*streams.Stream
	byID := make(map[string]*streams.Stream)
	invalid := make(map[string]bool)

	for rows.Next() {
		var (
			streamID, title, matchingType string
			disabled                      bool
			ruleID, field, value          sql.NullString
			ruleType                      sql.NullInt64
			inverted                      sql.NullBool
		)
		if err := rows.Scan(
			&streamID,
			&title,
			&disabled,
			&matchingType,
			&ruleID,
			&ruleType,
			&field,
			&value,
			&inverted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}

		stream, ok := byID[streamID]
		if !ok {
			mt, err := streams.ParseMatchingType(matchingType)
			if err != nil {
				slog.Warn("Unknown matching type, defaulting to ALL",
					"stream_id", streamID,
					"matching_type", matchingType,
				)
				mt = streams.MatchAll
			}
			stream = &streams.Stream{
				ID:           streamID,
				Title:        title,
				Disabled:     disabled,
				MatchingType: mt,
				Rules:        []*streams.StreamRule{},
			}
			byID[streamID] = stream
			result = append(result, stream)
		}

		if !ruleID.Valid {
			continue // stream without rules
		}
		rule, err := streams.NewStreamRule(
			ruleID.String,
			streamID,
			streams.RuleType(ruleType.Int64),
			field.String,
			value.String,
			inverted.Bool,
		)
		if err != nil {
			slog.Error("Skipping stream with invalid rule",
				"stream_id", streamID,
				"rule_id", ruleID.String,
				"error", err,
			)
			invalid[streamID] = true
			continue
		}
		stream.Rules = append(stream.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate streams: %w", err)
	}
	if len(invalid) == 0 {
		return result, nil
	}
	valid := make([]*streams.Stream, 0, len(result))
	for _, s := range result {
		if !invalid[s.ID] {
			valid = append(valid, s)
		}
	}
	return valid, nil
}
