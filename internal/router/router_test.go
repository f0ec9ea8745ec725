package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"streamrouter/internal/message"
	"streamrouter/internal/streams"
)

// fakeSource returns a fixed universe and counts loads.
type fakeSource struct {
	mu      sync.Mutex
	streams []*streams.Stream
	err     error
	loads   atomic.Int64
}

func (f *fakeSource) LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.streams, nil
}

func (f *fakeSource) set(all ...*streams.Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = all
}

func mustRule(t *testing.T, id, streamID string, ruleType streams.RuleType, field, value string) *streams.StreamRule {
	t.Helper()
	r, err := streams.NewStreamRule(id, streamID, ruleType, field, value, false)
	if err != nil {
		t.Fatalf("NewStreamRule() error = %v", err)
	}
	return r
}

func newStream(id string, mt streams.MatchingType, rules ...*streams.StreamRule) *streams.Stream {
	return &streams.Stream{ID: id, Title: id, MatchingType: mt, Rules: rules}
}

func TestRouter_Route(t *testing.T) {
	src := &fakeSource{}
	src.set(
		newStream("web", streams.MatchAll, mustRule(t, "r1", "web", streams.RuleExact, "source", "web-1")),
		newStream("errors", streams.MatchAny,
			mustRule(t, "r2", "errors", streams.RuleContains, "message", "error"),
			mustRule(t, "r3", "errors", streams.RuleGreaterThan, "status", "499"),
		),
		newStream("slow", streams.MatchAll, mustRule(t, "r4", "slow", streams.RuleGreaterThan, "took_ms", "1000")),
	)
	r := NewRouter(src)

	got, err := r.Route(context.Background(), message.New("m-1", map[string]any{
		"source":  "web-1",
		"message": "upstream returned error",
		"took_ms": 12.0,
	}))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	want := []string{"errors", "web"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Route() = %v, want %v", got, want)
	}

	none, err := r.Route(context.Background(), message.New("m-2", map[string]any{"source": "db-1"}))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Route() = %#v, want empty non-nil slice", none)
	}
}

func TestRouter_RebuildsOnlyOnFingerprintChange(t *testing.T) {
	src := &fakeSource{}
	src.set(newStream("a", streams.MatchAll))
	r := NewRouter(src)

	if fp := r.Fingerprint(); fp != "" {
		t.Errorf("Fingerprint() before first route = %q, want empty", fp)
	}

	msg := message.New("m", nil)
	for i := 0; i < 5; i++ {
		if _, err := r.Route(context.Background(), msg); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
	}
	if got := r.RebuildCount(); got != 1 {
		t.Errorf("RebuildCount() = %d, want 1", got)
	}
	first := r.Fingerprint()

	src.set(newStream("a", streams.MatchAll), newStream("b", streams.MatchAll))
	got, err := r.Route(context.Background(), msg)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Route() = %v, want [a b]", got)
	}
	if r.RebuildCount() != 2 {
		t.Errorf("RebuildCount() = %d, want 2", r.RebuildCount())
	}
	if r.Fingerprint() == first {
		t.Error("Fingerprint() unchanged after adding a stream")
	}
	if r.StreamCount() != 2 {
		t.Errorf("StreamCount() = %d, want 2", r.StreamCount())
	}
}

func TestRouter_Invalidate(t *testing.T) {
	src := &fakeSource{}
	rule := mustRule(t, "r1", "a", streams.RuleExact, "source", "web-1")
	src.set(newStream("a", streams.MatchAll, rule))
	r := NewRouter(src)

	msg := message.New("m", map[string]any{"source": "web-2"})
	if got, _ := r.Route(context.Background(), msg); len(got) != 0 {
		t.Fatalf("Route() = %v, want no match", got)
	}

	// Same IDs, new value: the fingerprint cannot see it.
	src.set(newStream("a", streams.MatchAll, mustRule(t, "r1", "a", streams.RuleExact, "source", "web-2")))
	if got, _ := r.Route(context.Background(), msg); len(got) != 0 {
		t.Errorf("Route() = %v before Invalidate, want the cached table", got)
	}

	r.Invalidate()
	got, err := r.Route(context.Background(), msg)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Route() after Invalidate = %v, want [a]", got)
	}
	if r.RebuildCount() != 2 {
		t.Errorf("RebuildCount() = %d, want 2", r.RebuildCount())
	}
}

func TestRouter_ExcludesDisabledStreams(t *testing.T) {
	src := &fakeSource{}
	disabled := newStream("off", streams.MatchAll)
	disabled.Disabled = true
	src.set(newStream("on", streams.MatchAll), disabled, nil)
	r := NewRouter(src)

	got, err := r.Route(context.Background(), message.New("m", nil))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(got) != 1 || got[0] != "on" {
		t.Errorf("Route() = %v, want [on]", got)
	}
}

func TestRouter_DisabledInPlace(t *testing.T) {
	src := &fakeSource{}
	a := newStream("a", streams.MatchAll)
	src.set(a, newStream("b", streams.MatchAll))
	r := NewRouter(src)

	msg := message.New("m", nil)
	if got, _ := r.Route(context.Background(), msg); len(got) != 2 {
		t.Fatalf("Route() = %v, want [a b]", got)
	}
	before := r.Fingerprint()

	// The source keeps returning the same stream, now disabled.
	a.Disabled = true
	got, err := r.Route(context.Background(), msg)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Route() after disabling a = %v, want [b]", got)
	}
	if r.Fingerprint() == before {
		t.Error("Fingerprint() unchanged after disabling a stream")
	}
	if r.StreamCount() != 1 {
		t.Errorf("StreamCount() = %d, want 1", r.StreamCount())
	}
}

func TestRouter_NilEntries(t *testing.T) {
	src := &fakeSource{}
	src.set(nil, newStream("a", streams.MatchAll, nil, mustRule(t, "r1", "a", streams.RulePresence, "source", "")), nil)
	r := NewRouter(src)

	got, err := r.Route(context.Background(), message.New("m", map[string]any{"source": "x"}))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Route() = %v, want [a]", got)
	}
}

// invalidatingSource serves the old universe on its first load and calls
// Invalidate while that load is in flight, as a change event would.
type invalidatingSource struct {
	router   *Router
	old, new []*streams.Stream
	loads    atomic.Int64
}

func (s *invalidatingSource) LoadAllEnabled(ctx context.Context) ([]*streams.Stream, error) {
	if s.loads.Add(1) == 1 {
		s.router.Invalidate()
		return s.old, nil
	}
	return s.new, nil
}

func TestRouter_InvalidateDuringLoad(t *testing.T) {
	src := &invalidatingSource{}
	src.old = []*streams.Stream{newStream("a", streams.MatchAll, mustRule(t, "r1", "a", streams.RuleExact, "source", "web-1"))}
	// Same IDs, edited value: identical fingerprint.
	src.new = []*streams.Stream{newStream("a", streams.MatchAll, mustRule(t, "r1", "a", streams.RuleExact, "source", "web-2"))}
	r := NewRouter(src)
	src.router = r

	msg := message.New("m", map[string]any{"source": "web-2"})
	if _, err := r.Route(context.Background(), msg); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if fp := r.Fingerprint(); fp != "" {
		t.Errorf("Fingerprint() = %q, want no table cached from the invalidated load", fp)
	}

	for i := 0; i < 3; i++ {
		got, err := r.Route(context.Background(), msg)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if len(got) != 1 || got[0] != "a" {
			t.Fatalf("Route() #%d = %v, want [a] from the edited rule", i, got)
		}
	}
	if got := r.RebuildCount(); got != 2 {
		t.Errorf("RebuildCount() = %d, want 2", got)
	}
}

func TestRouter_SourceUnavailable(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewRouter(src)

	got, err := r.Route(context.Background(), message.New("m", nil))
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Route() error = %v, want ErrSourceUnavailable", err)
	}
	if got != nil {
		t.Errorf("Route() = %v, want nil", got)
	}
	if r.RebuildCount() != 0 {
		t.Errorf("RebuildCount() = %d, want 0", r.RebuildCount())
	}
}

func TestRouter_DoesNotShareTableWithSource(t *testing.T) {
	src := &fakeSource{}
	s := newStream("a", streams.MatchAll)
	src.set(s)
	r := NewRouter(src)
	if _, err := r.Route(context.Background(), message.New("m", nil)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	s.MatchingType = streams.MatchAny // zero rules under ANY matches nothing
	got, _ := r.Route(context.Background(), message.New("m", nil))
	if len(got) != 1 {
		t.Errorf("Route() = %v, mutating the source stream leaked into the table", got)
	}
}

func TestRouter_ConcurrentRoute(t *testing.T) {
	src := &fakeSource{}
	src.set(
		newStream("a", streams.MatchAll, mustRule(t, "r1", "a", streams.RulePresence, "source", "")),
		newStream("b", streams.MatchAll),
	)
	r := NewRouter(src)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Route(context.Background(), message.New("m", map[string]any{"source": "x"}))
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 2 {
				errs <- errors.New("unexpected routing result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if r.RebuildCount() != 1 {
		t.Errorf("RebuildCount() = %d, want 1", r.RebuildCount())
	}
}

func TestRouter_TestMatch(t *testing.T) {
	r := NewRouter(&fakeSource{})
	s := newStream("s", streams.MatchAll,
		mustRule(t, "r1", "s", streams.RuleExact, "source", "web-1"),
		mustRule(t, "r2", "s", streams.RuleContains, "message", "boom"),
	)
	s.Disabled = true

	matched, results := r.TestMatch(s, message.New("m", map[string]any{"source": "web-1", "message": "ok"}))
	if matched {
		t.Error("TestMatch() matched = true, want false")
	}
	if !results["r1"] || results["r2"] {
		t.Errorf("TestMatch() results = %v, want map[r1:true r2:false]", results)
	}
	if r.RebuildCount() != 0 {
		t.Error("TestMatch() must not build the routing table")
	}
}
