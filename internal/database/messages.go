package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"streamrouter/internal/message"
	"streamrouter/internal/search"
)

// MessageIndex answers alert condition queries from the messages table.
// It implements search.Index.
type MessageIndex struct {
	db *DB
}

// NewMessageIndex creates a message index on top of the database connection.
func NewMessageIndex(db *DB) *MessageIndex {
	return &MessageIndex{db: db}
}

// whereClause builds the shared stream/range/query filter.
// Placeholders start at $1; the returned args match them in order.
func whereClause(query search.Query, rng search.AbsoluteRange, streamID string) (string, []any) {
	clauses := []string{
		"$1 = ANY(streams)",
		"timestamp >= $2",
		"timestamp < $3",
	}
	args := []any{streamID, rng.From, rng.To}
	if !query.MatchAll() {
		clauses = append(clauses, "fields->>$4 = $5")
		args = append(args, query.Field, query.Value)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Count returns the number of messages of the stream in the range.
func (idx *MessageIndex) Count(ctx context.Context, query search.Query, rng search.AbsoluteRange, streamID string) (int64, error) {
	if err := rng.Validate(); err != nil {
		return 0, err
	}
	where, args := whereClause(query, rng, streamID)
	stmt := "SELECT COUNT(*) FROM messages " + where

	var count int64
	if err := idx.db.conn.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Search returns up to limit messages of the stream in the range.
// Only ascending and descending order on a single field is supported.
func (idx *MessageIndex) Search(ctx context.Context, query search.Query, streamID string, rng search.AbsoluteRange, limit, offset int, sort search.Sorting) ([]search.Result, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []search.Result{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	where, args := whereClause(query, rng, streamID)
	orderBy, args := orderClause(sort, args)
	args = append(args, limit, offset)
	stmt := fmt.Sprintf("SELECT id, index_name, timestamp, fields FROM messages %s %s LIMIT $%d OFFSET $%d",
		where, orderBy, len(args)-1, len(args))

	rows, err := idx.db.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	results := make([]search.Result, 0, limit)
	for rows.Next() {
		var (
			msg    message.Message
			ts     pq.NullTime
			fields []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Index, &ts, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Fields = make(map[string]any)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &msg.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields of message %s: %w", msg.ID, err)
			}
		}
		if ts.Valid {
			msg.Fields[message.FieldTimestamp] = ts.Time.UTC()
		}
		results = append(results, search.Result{Index: msg.Index, Message: &msg})
	}
	return results, rows.Err()
}

// orderClause renders the ORDER BY clause. Field names are passed as
// parameters, directions are whitelisted.
func orderClause(sort search.Sorting, args []any) (string, []any) {
	direction := "DESC"
	if sort.Direction == search.Ascending {
		direction = "ASC"
	}
	if sort.Field == "" || sort.Field == message.FieldTimestamp {
		return "ORDER BY timestamp " + direction, args
	}
	args = append(args, sort.Field)
	return fmt.Sprintf("ORDER BY fields->>$%d %s", len(args), direction), args
}

// Store indexes a routed message under the streams it matched.
func (idx *MessageIndex) Store(ctx context.Context, msg *message.Message, streamIDs []string) error {
	fields := make(map[string]any, len(msg.Fields))
	for k, v := range msg.Fields {
		if k == message.FieldStreams {
			continue
		}
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields of message %s: %w", msg.ID, err)
	}

	stmt := `
		INSERT INTO messages (id, index_name, timestamp, streams, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET streams = EXCLUDED.streams
	`
	ts := msg.Timestamp()
	if _, err := idx.db.conn.ExecContext(ctx, stmt, msg.ID, msg.Index, pq.NullTime{Time: ts, Valid: !ts.IsZero()}, pq.Array(streamIDs), payload); err != nil {
		return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
	}
	return nil
}
