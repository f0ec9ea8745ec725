// Package processor runs the routing ingest loop: consume a message, route it
// against the enabled streams, publish it tagged with the matched stream IDs
// and only then commit its offset.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/message"
	"streamrouter/internal/router"
	kafkautil "streamrouter/pkg/kafka"
)

const (
	// DefaultRetryBackoff is the pause before a failed message is retried.
	DefaultRetryBackoff = time.Second
	// DefaultMaxDeliveryAttempts bounds how often a routed message is
	// published and indexed before it is abandoned.
	DefaultMaxDeliveryAttempts = 5
)

// MessageSource yields decoded messages with their raw Kafka envelope.
type MessageSource interface {
	FetchMessage(ctx context.Context) (*message.Message, *kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

// Router resolves the streams a message belongs to.
type Router interface {
	Route(ctx context.Context, msg *message.Message) ([]string, error)
}

// Publisher publishes a message tagged with its streams.
type Publisher interface {
	Publish(ctx context.Context, msg *message.Message, streamIDs []string, contentType string) error
}

// MessageStore persists routed messages for alert condition queries.
type MessageStore interface {
	Store(ctx context.Context, msg *message.Message, streamIDs []string) error
}

// Processor orchestrates message routing.
type Processor struct {
	source       MessageSource
	router       Router
	publisher    Publisher
	store        MessageStore
	metrics      outcomes
	retryBackoff time.Duration
	maxAttempts  int
}

// NewProcessor creates a new routing processor. store may be nil when
// routed messages are not indexed locally; collector may be nil to disable metrics.
func NewProcessor(source MessageSource, r Router, publisher Publisher, store MessageStore, collector Collector) *Processor {
	return &Processor{
		source:       source,
		router:       r,
		publisher:    publisher,
		store:        store,
		metrics:      outcomes{c: collector},
		retryBackoff: DefaultRetryBackoff,
		maxAttempts:  DefaultMaxDeliveryAttempts,
	}
}

// SetMaxDeliveryAttempts changes how many publish and index attempts a routed
// message gets. n must be positive. Call before ProcessMessages.
func (p *Processor) SetMaxDeliveryAttempts(n int) {
	p.maxAttempts = n
}

// ProcessMessages continuously reads messages from Kafka, routes them and
// publishes the result. A message is retried in place until it is handled, so
// its offset is never committed early, with two exceptions: undecodable
// payloads, and routed messages whose delivery failed maxAttempts times in a
// row. Both are logged and counted before their offset is committed.
// Routing failures are retried without limit.
func (p *Processor) ProcessMessages(ctx context.Context) error {
	slog.Info("Starting message routing loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Message routing loop stopped")
			return nil
		default:
		}

		msg, raw, err := p.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Message routing loop stopped")
				return nil
			}
			if raw == nil {
				slog.Error("Failed to read message", "error", err)
				continue
			}
			// Undecodable payloads never become routable; commit past them.
			slog.Error("Dropping undecodable message",
				"partition", raw.Partition,
				"offset", raw.Offset,
				"error", err,
			)
			p.metrics.undecodable()
			p.commit(ctx, raw)
			continue
		}

		if !p.handle(ctx, msg, raw) {
			slog.Info("Message routing loop stopped", "pending_message_id", msg.ID)
			return nil
		}
	}
}

// handle processes one message until it can be committed, then commits it.
// Returns false if ctx ended while the message was still pending.
func (p *Processor) handle(ctx context.Context, msg *message.Message, raw *kafka.Message) bool {
	contentType := kafkautil.Header(*raw, kafkautil.HeaderContentType)
	failedDeliveries := 0
	for {
		result := p.processOne(ctx, msg, contentType)
		if result.handled {
			p.commit(ctx, raw)
			return true
		}
		if result.streamIDs != nil {
			failedDeliveries++
			if failedDeliveries >= p.maxAttempts {
				slog.Error("Abandoning routed message after repeated delivery failures",
					"message_id", msg.ID,
					"stream_ids", result.streamIDs,
					"attempts", failedDeliveries,
					"partition", raw.Partition,
					"offset", raw.Offset,
				)
				p.metrics.abandoned()
				p.commit(ctx, raw)
				return true
			}
		}
		if !p.backoff(ctx) {
			return false
		}
	}
}

// processResult contains the outcome of processing a single message.
type processResult struct {
	// handled is false when the message must be retried before its offset
	// may be committed.
	handled bool
	// streamIDs are the streams the message was routed to; nil if routing failed.
	streamIDs []string
}

// processOne routes a single message and publishes it.
func (p *Processor) processOne(ctx context.Context, msg *message.Message, contentType string) processResult {
	startTime := time.Now()
	p.metrics.received()

	streamIDs, err := p.router.Route(ctx, msg)
	if err != nil {
		if errors.Is(err, router.ErrSourceUnavailable) {
			slog.Warn("Stream source unavailable, message left unrouted",
				"message_id", msg.ID,
				"error", err,
			)
		} else {
			slog.Error("Failed to route message",
				"message_id", msg.ID,
				"error", err,
			)
		}
		p.metrics.unrouted()
		return processResult{}
	}

	if len(streamIDs) == 0 {
		p.metrics.unmatched(time.Since(startTime))
		return processResult{handled: true}
	}

	if err := p.publisher.Publish(ctx, msg, streamIDs, contentType); err != nil {
		slog.Error("Failed to publish routed message",
			"message_id", msg.ID,
			"stream_ids", streamIDs,
			"error", err,
		)
		p.metrics.deliveryFailed()
		return processResult{streamIDs: streamIDs}
	}

	if p.store != nil {
		if err := p.store.Store(ctx, msg, streamIDs); err != nil {
			slog.Error("Failed to index routed message",
				"message_id", msg.ID,
				"error", err,
			)
			p.metrics.deliveryFailed()
			return processResult{streamIDs: streamIDs}
		}
	}

	p.metrics.routed(len(streamIDs), time.Since(startTime))

	slog.Debug("Routed message",
		"message_id", msg.ID,
		"stream_ids", streamIDs,
	)
	return processResult{handled: true, streamIDs: streamIDs}
}

func (p *Processor) commit(ctx context.Context, raw *kafka.Message) {
	if err := p.source.CommitMessage(ctx, raw); err != nil {
		slog.Error("Failed to commit offset",
			"partition", raw.Partition,
			"offset", raw.Offset,
			"error", err,
		)
		p.metrics.commitFailed()
	}
}

// backoff waits before a retry. Returns false if ctx ended first.
func (p *Processor) backoff(ctx context.Context) bool {
	timer := time.NewTimer(p.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
