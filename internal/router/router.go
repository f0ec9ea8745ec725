// Package router routes messages to the streams whose rules they match.
// It caches a compiled routing table keyed by the fingerprint of the enabled
// stream universe and rebuilds it only when the fingerprint changes.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"streamrouter/internal/fingerprint"
	"streamrouter/internal/matcher"
	"streamrouter/internal/message"
	"streamrouter/internal/streams"
)

// ErrSourceUnavailable is returned by Route when the enabled stream universe
// cannot be loaded. The message must be treated as unrouted, not dropped.
var ErrSourceUnavailable = errors.New("stream source unavailable")

// StreamSource provides the current set of enabled streams with their rules.
type StreamSource interface {
	LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error)
}

// routingTable is an immutable snapshot of the enabled streams.
// It is replaced, never mutated, when the fingerprint changes.
type routingTable struct {
	fingerprint string
	// epoch is the invalidation epoch the table was built in.
	epoch   uint64
	streams []*streams.Stream
}

// newRoutingTable copies the enabled streams into a table sorted by stream ID.
// Nil rules are dropped. Rules are shared with the source; they are never
// modified after creation.
func newRoutingTable(fp string, epoch uint64, enabled []*streams.Stream) *routingTable {
	table := make([]*streams.Stream, 0, len(enabled))
	for _, s := range enabled {
		rules := make([]*streams.StreamRule, 0, len(s.Rules))
		for _, rule := range s.Rules {
			if rule != nil {
				rules = append(rules, rule)
			}
		}
		table = append(table, &streams.Stream{
			ID:           s.ID,
			Title:        s.Title,
			MatchingType: s.MatchingType,
			Rules:        rules,
		})
	}
	sort.Slice(table, func(i, j int) bool {
		return table[i].ID < table[j].ID
	})
	return &routingTable{
		fingerprint: fp,
		epoch:       epoch,
		streams:     table,
	}
}

// Router provides thread-safe message routing against a cached routing table.
type Router struct {
	source StreamSource

	mu    sync.RWMutex
	table *routingTable

	// rebuildMu serializes rebuilds so concurrent misses build the table once.
	rebuildMu sync.Mutex
	rebuilds  atomic.Uint64

	// epoch is bumped by Invalidate. A table built from a load that started
	// before the bump is never served again.
	epoch atomic.Uint64
}

// NewRouter creates a router reading streams from source.
// The routing table is built lazily on the first Route call.
func NewRouter(source StreamSource) *Router {
	return &Router{
		source: source,
	}
}

// Route returns the sorted IDs of all enabled streams matching the message.
// Returns an error wrapping ErrSourceUnavailable if the stream universe cannot be loaded.
// Thread-safe: concurrent callers only ever observe a fully built table.
func (r *Router) Route(ctx context.Context, msg *message.Message) ([]string, error) {
	table, err := r.currentTable(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0)
	for _, s := range table.streams {
		if matcher.StreamMatchesMessage(s, msg) {
			matched = append(matched, s.ID)
		}
	}
	return matched, nil
}

// TestMatch evaluates one stream's live rules against the message, bypassing
// the routing table. The stream does not have to be enabled.
// Returns the aggregate decision and the result of every rule (rule_id -> matched).
func (r *Router) TestMatch(stream *streams.Stream, msg *message.Message) (bool, map[string]bool) {
	results := matcher.RuleMatches(stream, msg)
	return matcher.StreamMatches(stream, results), results
}

// Invalidate drops the cached table so the next Route rebuilds it even if the
// fingerprint is unchanged. Used when a rule is edited in place.
func (r *Router) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch.Add(1)
	r.table = nil
}

// Fingerprint returns the fingerprint of the cached table, or "" before the first build.
func (r *Router) Fingerprint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.table == nil {
		return ""
	}
	return r.table.fingerprint
}

// RebuildCount returns how many times the routing table has been built.
func (r *Router) RebuildCount() uint64 {
	return r.rebuilds.Load()
}

// StreamCount returns the number of streams in the cached table.
func (r *Router) StreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.table == nil {
		return 0
	}
	return len(r.table.streams)
}

// currentTable loads the stream universe and returns a table matching its
// fingerprint, rebuilding and swapping it in if needed. The fingerprint covers
// only enabled streams, so disabling a stream in place forces a rebuild.
func (r *Router) currentTable(ctx context.Context) (*routingTable, error) {
	// Read the epoch before loading: if Invalidate runs during the load, the
	// loaded universe may predate the change and must not stay cached.
	epoch := r.epoch.Load()
	all, err := r.source.LoadAllEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	enabled := streams.FilterEnabled(all)
	fp := fingerprint.Compute(enabled)

	if table := r.cached(fp, epoch); table != nil {
		return table, nil
	}

	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	// Another caller may have rebuilt while we waited.
	if table := r.cached(fp, epoch); table != nil {
		return table, nil
	}

	table := newRoutingTable(fp, epoch, enabled)
	r.mu.Lock()
	old := r.table
	stale := r.epoch.Load() != epoch
	if !stale {
		r.table = table
	}
	r.mu.Unlock()
	r.rebuilds.Add(1)

	if stale {
		// Serve this call from the table it loaded but leave the cache empty so
		// the next Route reloads.
		slog.Debug("Routing table invalidated during rebuild", "fingerprint", fp)
		return table, nil
	}

	oldFingerprint := ""
	if old != nil {
		oldFingerprint = old.fingerprint
	}
	slog.Info("Routing table rebuilt",
		"old_fingerprint", oldFingerprint,
		"new_fingerprint", fp,
		"streams_count", len(table.streams),
	)
	return table, nil
}

// cached returns the current table if it was built from the given fingerprint
// in the given epoch.
func (r *Router) cached(fp string, epoch uint64) *routingTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.table != nil && r.table.fingerprint == fp && r.table.epoch == epoch {
		return r.table
	}
	return nil
}
