package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"streamrouter/internal/alert"
)

// LoadConditions retrieves the alert conditions of all enabled streams.
// Conditions with unreadable parameters are skipped and logged.
func (db *DB) LoadConditions(ctx context.Context) ([]alert.Definition, error) {
	query := `
		SELECT c.id, c.stream_id, c.type, c.title, c.creator_user_id, c.created_at, c.parameters
		FROM alert_conditions c
		JOIN streams s ON s.id = c.stream_id
		WHERE s.disabled = FALSE
		ORDER BY c.created_at ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert conditions: %w", err)
	}
	defer rows.Close()

	var defs []alert.Definition
	for rows.Next() {
		var (
			def        alert.Definition
			title      sql.NullString
			parameters []byte
		)
		if err := rows.Scan(
			&def.ID,
			&def.StreamID,
			&def.Type,
			&title,
			&def.CreatorUserID,
			&def.CreatedAt,
			&parameters,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert condition: %w", err)
		}
		def.Title = title.String

		def.Parameters = make(map[string]any)
		if len(parameters) > 0 {
			if err := json.Unmarshal(parameters, &def.Parameters); err != nil {
				slog.Warn("Failed to unmarshal alert condition parameters",
					"condition_id", def.ID,
					"error", err,
				)
				continue
			}
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
