package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamrouter/internal/message"
	"streamrouter/internal/search"
)

// fakeIndex serves a fixed count and a pool of messages, recording every query.
type fakeIndex struct {
	mu          sync.Mutex
	count       int64
	messages    int
	countErr    error
	searchErr   error
	countCalls  []indexCall
	searchCalls []indexCall
}

type indexCall struct {
	query    search.Query
	rng      search.AbsoluteRange
	streamID string
	limit    int
	sort     search.Sorting
}

func (f *fakeIndex) Count(ctx context.Context, query search.Query, rng search.AbsoluteRange, streamID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls = append(f.countCalls, indexCall{query: query, rng: rng, streamID: streamID})
	if f.countErr != nil {
		return 0, f.countErr
	}
	if err := rng.Validate(); err != nil {
		return 0, err
	}
	return f.count, nil
}

func (f *fakeIndex) Search(ctx context.Context, query search.Query, streamID string, rng search.AbsoluteRange, limit, offset int, sort search.Sorting) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, indexCall{query: query, rng: rng, streamID: streamID, limit: limit, sort: sort})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	n := f.messages
	if limit < n {
		n = limit
	}
	results := make([]search.Result, 0, n)
	for i := 0; i < n; i++ {
		msg := message.New(fmt.Sprintf("m-%d", i), map[string]any{
			message.FieldTimestamp: rng.To.Add(-time.Duration(i) * time.Second),
			message.FieldSource:    "web-1",
			message.FieldMessage:   "request served",
			"took_ms":              float64(i),
		})
		results = append(results, search.Result{Index: "messages_0", Message: msg})
	}
	return results, nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func countDefinition(params map[string]any) Definition {
	return Definition{
		ID:         "c-1",
		StreamID:   "s-1",
		Type:       TypeMessageCount,
		Title:      "Too many messages",
		Parameters: params,
	}
}
