// Package reloader keeps an in-memory copy of the enabled stream universe so
// that routing never waits on the stream store. It polls the store on an
// interval and can be asked to reload immediately when streams change.
package reloader

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamrouter/internal/streams"
)

// ErrNotLoaded is returned by LoadAllEnabled before the first successful load.
var ErrNotLoaded = errors.New("stream universe not loaded yet")

// Source loads the enabled streams from the backing store.
type Source interface {
	LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error)
}

// Versioned is implemented by sources that expose a change counter.
// When available, polling only reloads after the version changes.
type Versioned interface {
	GetVersion(ctx context.Context) (int64, error)
}

// Reloader polls a Source and serves the last loaded stream universe.
// It implements router.StreamSource.
type Reloader struct {
	source       Source
	pollInterval time.Duration

	mu             sync.RWMutex
	streams        []*streams.Stream
	loaded         bool
	currentVersion int64
	digest         [sha256.Size]byte
	onReload       []func()

	// reloadMu serializes reloads triggered by polling and by events.
	reloadMu sync.Mutex
}

// NewReloader creates a new reloader with the given source and poll interval.
func NewReloader(source Source, pollInterval time.Duration) *Reloader {
	return &Reloader{
		source:       source,
		pollInterval: pollInterval,
	}
}

// OnReload registers a callback run after a reload that changed the
// content of the universe, including in-place edits of a stream's rules.
func (r *Reloader) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Start loads the initial universe and begins polling in a background goroutine.
// The goroutine will exit when ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) error {
	if err := r.reload(ctx, true); err != nil {
		return fmt.Errorf("initial stream load failed: %w", err)
	}

	slog.Info("Starting stream poller",
		"poll_interval", r.pollInterval,
		"initial_version", r.version(),
		"streams_count", len(r.snapshot()),
	)

	go r.pollLoop(ctx)
	return nil
}

// LoadAllEnabled returns the cached enabled streams without touching the store.
func (r *Reloader) LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	return r.streams, nil
}

// ReloadNow forces an immediate reload regardless of the source version.
// This is called when a streams.changed event is received.
func (r *Reloader) ReloadNow(ctx context.Context) error {
	return r.reload(ctx, true)
}

// pollLoop continuously polls the source for changes.
func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stream poller stopped")
			return
		case <-ticker.C:
			if err := r.reload(ctx, false); err != nil {
				// Keep serving the last good universe.
				slog.Error("Failed to reload streams",
					"error", err,
				)
			}
		}
	}
}

// reload fetches the universe from the source. Unless forced, a versioned
// source is only read when its version moved.
func (r *Reloader) reload(ctx context.Context, force bool) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	var version int64
	versioned, isVersioned := r.source.(Versioned)
	if isVersioned {
		v, err := versioned.GetVersion(ctx)
		if err != nil {
			return err
		}
		version = v
		if !force && version == r.version() {
			return nil // No change
		}
	}

	all, err := r.source.LoadAllEnabled(ctx)
	if err != nil {
		return err
	}
	enabled := streams.FilterEnabled(all)
	digest, err := contentDigest(enabled)
	if err != nil {
		return err
	}

	r.mu.Lock()
	oldVersion := r.currentVersion
	changed := !r.loaded || digest != r.digest
	r.streams = enabled
	r.loaded = true
	r.currentVersion = version
	r.digest = digest
	var hooks []func()
	if changed {
		hooks = make([]func(), len(r.onReload))
		copy(hooks, r.onReload)
	}
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	slog.Debug("Streams reloaded",
		"old_version", oldVersion,
		"version", version,
		"streams_count", len(enabled),
		"changed", changed,
	)
	return nil
}

// contentDigest hashes the serialized streams so edits that keep every ID
// intact are still detected.
func contentDigest(all []*streams.Stream) ([sha256.Size]byte, error) {
	data, err := json.Marshal(all)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("failed to serialize streams: %w", err)
	}
	return sha256.Sum256(data), nil
}

func (r *Reloader) version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVersion
}

func (r *Reloader) snapshot() []*streams.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams
}
