package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"streamrouter/internal/streams"
)

func TestDecode(t *testing.T) {
	data := []byte(`{
		"schema_version": 1,
		"streams": [
			{"id": "s-1", "title": "Web", "matching_type": "ANY", "rules": [
				{"id": "r-1", "type": 1, "field": "source", "value": "web-1"},
				{"id": "r-2", "type": 2, "field": "message", "value": "^GET"}
			]},
			{"id": "s-2", "title": "Broken", "rules": [
				{"id": "r-3", "type": 3, "field": "took_ms", "value": "fast"}
			]},
			null,
			{"id": "s-3", "title": "Off", "disabled": true}
		]
	}`)

	snap, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", snap.SchemaVersion, SchemaVersion)
	}
	if len(snap.Streams) != 2 {
		t.Fatalf("Decode() kept %d streams, want 2", len(snap.Streams))
	}
	web := snap.Streams[0]
	if web.MatchingType != streams.MatchAny || web.Rules[0].StreamID != "s-1" {
		t.Errorf("stream s-1 = %+v", web)
	}
	if web.Rules[1].Pattern() == nil {
		t.Error("regex rule was not compiled")
	}
	off := snap.Streams[1]
	if off.MatchingType != streams.MatchAll {
		t.Errorf("default matching type = %q, want ALL", off.MatchingType)
	}
	if got := streams.FilterEnabled(snap.Streams); len(got) != 1 {
		t.Errorf("FilterEnabled() = %d streams, want 1", len(got))
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode([]byte(`{"streams": [`)); err == nil {
		t.Error("Decode() error = nil, want error")
	}
}

// TestSnapshot_Integration tests the Redis round trip. Requires Redis on localhost:6379.
func TestSnapshot_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}

	prevSnapshot, _ := client.Get(ctx, SnapshotKey).Bytes()
	prevVersion, _ := client.Get(ctx, VersionKey).Result()
	defer func() {
		client.Del(ctx, SnapshotKey, VersionKey)
		if prevSnapshot != nil {
			client.Set(ctx, SnapshotKey, prevSnapshot, 0)
		}
		if prevVersion != "" {
			client.Set(ctx, VersionKey, prevVersion, 0)
		}
	}()

	client.Del(ctx, SnapshotKey, VersionKey)
	loader := NewLoader(client)

	if v, err := loader.GetVersion(ctx); err != nil || v != 0 {
		t.Fatalf("GetVersion() = %d, %v; want 0, nil", v, err)
	}
	if _, err := loader.LoadSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadSnapshot() error = %v, want ErrNotFound", err)
	}

	rule, err := streams.NewStreamRule("r-1", "s-1", streams.RuleExact, "source", "web-1", false)
	if err != nil {
		t.Fatalf("NewStreamRule() error = %v", err)
	}
	all := []*streams.Stream{
		{ID: "s-1", Title: "Web", MatchingType: streams.MatchAll, Rules: []*streams.StreamRule{rule}},
		{ID: "s-2", Title: "Off", MatchingType: streams.MatchAll, Disabled: true},
	}

	version, err := NewWriter(client).WriteSnapshot(ctx, all)
	if err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	if version != 1 {
		t.Errorf("WriteSnapshot() version = %d, want 1", version)
	}
	if v, _ := loader.GetVersion(ctx); v != version {
		t.Errorf("GetVersion() = %d, want %d", v, version)
	}

	enabled, err := loader.LoadAllEnabled(ctx)
	if err != nil {
		t.Fatalf("LoadAllEnabled() error = %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "s-1" || enabled[0].Rules[0].Value != "web-1" {
		t.Errorf("LoadAllEnabled() = %+v", enabled)
	}
}
