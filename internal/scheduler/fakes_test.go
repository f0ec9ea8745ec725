package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"streamrouter/internal/alert"
	"streamrouter/internal/search"
)

type fakeLoader struct {
	defs []alert.Definition
	err  error
}

func (l *fakeLoader) LoadConditions(context.Context) ([]alert.Definition, error) {
	return l.defs, l.err
}

// fakeIndex answers Count per stream. When block is set, Count waits on it.
type fakeIndex struct {
	mu     sync.Mutex
	counts map[string]int64
	errs   map[string]error
	calls  int
	block  chan struct{}
}

func (i *fakeIndex) Count(ctx context.Context, _ search.Query, _ search.AbsoluteRange, streamID string) (int64, error) {
	i.mu.Lock()
	i.calls++
	block := i.block
	i.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := i.errs[streamID]; err != nil {
		return 0, err
	}
	return i.counts[streamID], nil
}

func (i *fakeIndex) Search(context.Context, search.Query, string, search.AbsoluteRange, int, int, search.Sorting) ([]search.Result, error) {
	return nil, nil
}

func (i *fakeIndex) countCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	failures int
	results  []*alert.CheckResult
}

func (n *fakeNotifier) Notify(_ context.Context, result *alert.CheckResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("broker unavailable")
	}
	n.results = append(n.results, result)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

type fakeMetrics struct {
	mu     sync.Mutex
	errors int
	custom map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{custom: make(map[string]int)}
}

func (m *fakeMetrics) RecordProcessed(time.Duration) {}
func (m *fakeMetrics) RecordPublished()              {}

func (m *fakeMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *fakeMetrics) IncrementCustom(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom[name]++
}

func (m *fakeMetrics) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custom[name]
}

func messageCount(id, streamID string, params map[string]any) alert.Definition {
	return alert.Definition{
		ID:         id,
		StreamID:   streamID,
		Type:       alert.TypeMessageCount,
		Parameters: params,
	}
}
