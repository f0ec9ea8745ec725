package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/message"
	"streamrouter/internal/router"
)

// run drives ProcessMessages until the source has committed its last message.
func run(t *testing.T, p *Processor, src *fakeSource) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.ProcessMessages(ctx) }()

	select {
	case <-src.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages to be committed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ProcessMessages() error = %v", err)
	}
}

func TestProcessor_RoutesPublishesAndCommits(t *testing.T) {
	src := newFakeSource(
		fetched(10, "m-1", map[string]any{"source": "web-1"}),
		fetched(11, "m-2", map[string]any{"source": "db-1"}),
	)
	rt := &fakeRouter{routes: map[string][]string{"m-1": {"s-1", "s-2"}}}
	pub := &fakePublisher{}
	store := &fakeStore{}
	mc := newMockCollector()

	p := NewProcessor(src, rt, pub, store, mc)
	run(t, p, src)

	if got := src.commits(); len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("committed offsets = %v, want [10 11]", got)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1 (m-2 matches nothing)", len(pub.published))
	}
	if pub.published[0].id != "m-1" || len(pub.published[0].streamIDs) != 2 {
		t.Errorf("published = %+v, want m-1 to [s-1 s-2]", pub.published[0])
	}
	if pub.published[0].contentType != message.ContentTypeJSON {
		t.Errorf("contentType = %q, want %q", pub.published[0].contentType, message.ContentTypeJSON)
	}
	if _, ok := store.stored["m-1"]; !ok {
		t.Error("m-1 was not indexed")
	}
	if mc.customCounts["messages_routed"] != 1 {
		t.Errorf("messages_routed = %d, want 1", mc.customCounts["messages_routed"])
	}
	if mc.customCounts["messages_unmatched"] != 1 {
		t.Errorf("messages_unmatched = %d, want 1", mc.customCounts["messages_unmatched"])
	}
	if mc.customCounts["stream_matches"] != 2 {
		t.Errorf("stream_matches = %d, want 2", mc.customCounts["stream_matches"])
	}
}

func TestProcessor_SourceUnavailableRetriesBeforeCommit(t *testing.T) {
	src := newFakeSource(fetched(5, "m-1", nil))
	unavailable := fmt.Errorf("%w: %w", router.ErrSourceUnavailable, errors.New("connection refused"))
	rt := &fakeRouter{
		errs:   []error{unavailable, unavailable},
		routes: map[string][]string{"m-1": {"s-1"}},
	}
	pub := &fakePublisher{}
	mc := newMockCollector()

	p := NewProcessor(src, rt, pub, nil, mc)
	p.retryBackoff = time.Millisecond
	run(t, p, src)

	if rt.calls != 3 {
		t.Errorf("Route calls = %d, want 3", rt.calls)
	}
	if mc.customCounts["messages_unrouted"] != 2 {
		t.Errorf("messages_unrouted = %d, want 2", mc.customCounts["messages_unrouted"])
	}
	if got := src.commits(); len(got) != 1 || got[0] != 5 {
		t.Errorf("committed offsets = %v, want [5]", got)
	}
	if len(pub.published) != 1 {
		t.Errorf("published = %d, want 1", len(pub.published))
	}
}

func TestProcessor_PublishFailureRetries(t *testing.T) {
	src := newFakeSource(fetched(1, "m-1", nil))
	rt := &fakeRouter{routes: map[string][]string{"m-1": {"s-1"}}}
	pub := &fakePublisher{failures: 2}
	mc := newMockCollector()

	p := NewProcessor(src, rt, pub, nil, mc)
	p.retryBackoff = time.Millisecond
	run(t, p, src)

	if len(pub.published) != 1 {
		t.Errorf("published = %d, want 1", len(pub.published))
	}
	if mc.errorCount != 2 {
		t.Errorf("errorCount = %d, want 2", mc.errorCount)
	}
}

func TestProcessor_AbandonsAfterMaxDeliveryAttempts(t *testing.T) {
	src := newFakeSource(
		fetched(1, "m-1", nil),
		fetched(2, "m-2", nil),
	)
	rt := &fakeRouter{routes: map[string][]string{"m-1": {"s-1"}, "m-2": {"s-2"}}}
	// m-1 exhausts its attempts; m-2 is published on its first.
	pub := &fakePublisher{failures: 3}
	mc := newMockCollector()

	p := NewProcessor(src, rt, pub, nil, mc)
	p.retryBackoff = time.Millisecond
	p.SetMaxDeliveryAttempts(3)
	run(t, p, src)

	if got := src.commits(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("committed offsets = %v, want [1 2]", got)
	}
	if rt.calls != 4 {
		t.Errorf("Route calls = %d, want 4", rt.calls)
	}
	if len(pub.published) != 1 || pub.published[0].id != "m-2" {
		t.Errorf("published = %+v, want only m-2", pub.published)
	}
	if mc.customCounts[CounterAbandoned] != 1 {
		t.Errorf("%s = %d, want 1", CounterAbandoned, mc.customCounts[CounterAbandoned])
	}
	if mc.errorCount != 3 {
		t.Errorf("errorCount = %d, want 3", mc.errorCount)
	}
	if mc.customCounts[CounterRouted] != 1 {
		t.Errorf("%s = %d, want 1", CounterRouted, mc.customCounts[CounterRouted])
	}
}

func TestProcessor_RoutingFailuresDoNotCountAsDeliveryAttempts(t *testing.T) {
	src := newFakeSource(fetched(1, "m-1", nil))
	unavailable := fmt.Errorf("%w: %w", router.ErrSourceUnavailable, errors.New("connection refused"))
	rt := &fakeRouter{
		errs:   []error{unavailable, unavailable, unavailable, unavailable},
		routes: map[string][]string{"m-1": {"s-1"}},
	}
	pub := &fakePublisher{failures: 1}
	mc := newMockCollector()

	p := NewProcessor(src, rt, pub, nil, mc)
	p.retryBackoff = time.Millisecond
	p.SetMaxDeliveryAttempts(2)
	run(t, p, src)

	if len(pub.published) != 1 {
		t.Errorf("published = %d, want 1", len(pub.published))
	}
	if mc.customCounts[CounterAbandoned] != 0 {
		t.Errorf("%s = %d, want 0", CounterAbandoned, mc.customCounts[CounterAbandoned])
	}
}

func TestProcessor_UndecodableMessageIsCommitted(t *testing.T) {
	src := newFakeSource(
		fetchResult{raw: &kafka.Message{Offset: 3}, err: errors.New("failed to decode message")},
	)
	mc := newMockCollector()

	p := NewProcessor(src, &fakeRouter{}, &fakePublisher{}, nil, mc)
	run(t, p, src)

	if got := src.commits(); len(got) != 1 || got[0] != 3 {
		t.Errorf("committed offsets = %v, want [3]", got)
	}
	if mc.customCounts["messages_undecodable"] != 1 {
		t.Errorf("messages_undecodable = %d, want 1", mc.customCounts["messages_undecodable"])
	}
}

func TestProcessor_StopsWhileRetrying(t *testing.T) {
	src := newFakeSource(fetched(1, "m-1", nil))
	rt := &fakeRouter{errs: make([]error, 1000)}
	for i := range rt.errs {
		rt.errs[i] = router.ErrSourceUnavailable
	}

	p := NewProcessor(src, rt, &fakePublisher{}, nil, nil)
	p.retryBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.ProcessMessages(ctx); err != nil {
		t.Fatalf("ProcessMessages() error = %v", err)
	}
	if got := src.commits(); len(got) != 0 {
		t.Errorf("committed offsets = %v, want none", got)
	}
}
