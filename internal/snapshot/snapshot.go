// Package snapshot handles reading and writing the stream universe snapshot in Redis.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"streamrouter/internal/streams"
)

const (
	// SnapshotKey is the Redis key where the stream snapshot is stored.
	SnapshotKey = "streams:snapshot"
	// VersionKey is the Redis key where the snapshot version is stored.
	VersionKey = "streams:version"
	// SchemaVersion is the current schema version for the snapshot format.
	SchemaVersion = 1
)

// ErrNotFound is returned when no snapshot has been written yet.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the serialized stream universe stored in Redis.
type Snapshot struct {
	SchemaVersion int               `json:"schema_version"`
	Streams       []*streams.Stream `json:"streams"`
}

// Loader handles loading snapshots from Redis.
type Loader struct {
	client *redis.Client
}

// NewLoader creates a new snapshot loader with the given Redis client.
func NewLoader(client *redis.Client) *Loader {
	return &Loader{
		client: client,
	}
}

// LoadSnapshot loads the stream snapshot from Redis and deserializes it.
// Rules are validated; a stream with an invalid rule is dropped and logged.
func (l *Loader) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	data, err := l.client.Get(ctx, SnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w (key: %s)", ErrNotFound, SnapshotKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}
	return Decode(data)
}

// LoadAllEnabled returns the enabled streams of the current snapshot.
func (l *Loader) LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error) {
	snap, err := l.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return streams.FilterEnabled(snap.Streams), nil
}

// GetVersion returns the current snapshot version from Redis.
// Returns 0 if the version doesn't exist (no snapshot yet).
func (l *Loader) GetVersion(ctx context.Context) (int64, error) {
	version, err := l.client.Get(ctx, VersionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get version from Redis: %w", err)
	}
	return version, nil
}

// Decode deserializes and validates a snapshot payload.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	valid := make([]*streams.Stream, 0, len(snap.Streams))
	for _, s := range snap.Streams {
		if s == nil {
			continue
		}
		if err := s.Prepare(); err != nil {
			slog.Error("Skipping stream with invalid rule in snapshot",
				"stream_id", s.ID,
				"error", err,
			)
			continue
		}
		valid = append(valid, s)
	}
	snap.Streams = valid
	return &snap, nil
}

// Writer publishes snapshots to Redis.
type Writer struct {
	client *redis.Client
}

// NewWriter creates a new snapshot writer with the given Redis client.
func NewWriter(client *redis.Client) *Writer {
	return &Writer{client: client}
}

// WriteSnapshot stores the streams and bumps the version atomically.
// Returns the new version.
func (w *Writer) WriteSnapshot(ctx context.Context, all []*streams.Stream) (int64, error) {
	data, err := json.Marshal(&Snapshot{
		SchemaVersion: SchemaVersion,
		Streams:       all,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var incr *redis.IntCmd
	_, err = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey, data, 0)
		incr = pipe.Incr(ctx, VersionKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}

	slog.Info("Wrote stream snapshot to Redis",
		"streams_count", len(all),
		"version", incr.Val(),
	)
	return incr.Val(), nil
}
