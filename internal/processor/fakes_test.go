package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/events"
	"streamrouter/internal/message"
	kafkautil "streamrouter/pkg/kafka"
)

// fetchResult is one scripted answer of fakeSource.
type fetchResult struct {
	msg *message.Message
	raw *kafka.Message
	err error
}

// fakeSource replays scripted fetches, then blocks until ctx is cancelled.
type fakeSource struct {
	mu        sync.Mutex
	fetches   []fetchResult
	committed []int64
	drained   chan struct{}
}

func newFakeSource(fetches ...fetchResult) *fakeSource {
	return &fakeSource{fetches: fetches, drained: make(chan struct{})}
}

func (s *fakeSource) FetchMessage(ctx context.Context) (*message.Message, *kafka.Message, error) {
	s.mu.Lock()
	if len(s.fetches) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	next := s.fetches[0]
	s.fetches = s.fetches[1:]
	s.mu.Unlock()
	return next.msg, next.raw, next.err
}

func (s *fakeSource) CommitMessage(_ context.Context, msg *kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msg.Offset)
	if len(s.fetches) == 0 {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
	return nil
}

func (s *fakeSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.committed))
	copy(out, s.committed)
	return out
}

func fetched(offset int64, id string, fields map[string]any) fetchResult {
	return fetchResult{
		msg: message.New(id, fields),
		raw: &kafka.Message{
			Offset:  offset,
			Headers: []kafka.Header{{Key: kafkautil.HeaderContentType, Value: []byte(message.ContentTypeJSON)}},
		},
	}
}

// fakeRouter answers Route from a script of errors, then from routes.
type fakeRouter struct {
	mu     sync.Mutex
	errs   []error
	routes map[string][]string
	calls  int
}

func (r *fakeRouter) Route(_ context.Context, msg *message.Message) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	return r.routes[msg.ID], nil
}

type published struct {
	id          string
	streamIDs   []string
	contentType string
}

type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	published []published
}

func (p *fakePublisher) Publish(_ context.Context, msg *message.Message, streamIDs []string, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, published{id: msg.ID, streamIDs: streamIDs, contentType: contentType})
	return nil
}

type fakeStore struct {
	mu     sync.Mutex
	stored map[string][]string
}

func (s *fakeStore) Store(_ context.Context, msg *message.Message, streamIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		s.stored = make(map[string][]string)
	}
	s.stored[msg.ID] = streamIDs
	return nil
}

// fakeChangeSource replays events, then blocks until ctx is cancelled.
type fakeChangeSource struct {
	mu     sync.Mutex
	events []*events.StreamChanged
	errs   []error
}

func (s *fakeChangeSource) ReadMessage(ctx context.Context) (*events.StreamChanged, error) {
	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.events) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := s.events[0]
	s.events = s.events[1:]
	s.mu.Unlock()
	return next, nil
}

type fakeReloader struct {
	mu    sync.Mutex
	err   error
	calls int
	done  chan struct{}
	want  int
}

func (r *fakeReloader) ReloadNow(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == r.want {
		close(r.done)
	}
	return r.err
}
