package processor

import (
	"context"
	"log/slog"

	"streamrouter/internal/events"
)

// ChangeSource yields streams.changed events.
type ChangeSource interface {
	ReadMessage(ctx context.Context) (*events.StreamChanged, error)
}

// Reloader refreshes the cached stream universe on demand.
type Reloader interface {
	ReloadNow(ctx context.Context) error
}

// StreamChangeHandler handles streams.changed events and triggers immediate reloads.
type StreamChangeHandler struct {
	consumer ChangeSource
	reload   Reloader
	metrics  outcomes
}

// NewStreamChangeHandler creates a new stream change handler.
func NewStreamChangeHandler(consumer ChangeSource, reload Reloader, collector Collector) *StreamChangeHandler {
	return &StreamChangeHandler{
		consumer: consumer,
		reload:   reload,
		metrics:  outcomes{c: collector},
	}
}

// HandleStreamChanged consumes streams.changed events until ctx is cancelled.
func (h *StreamChangeHandler) HandleStreamChanged(ctx context.Context) {
	slog.Info("Starting streams.changed event handler")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Streams.changed event handler stopped")
			return
		default:
		}

		changed, err := h.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Streams.changed event handler stopped")
				return
			}
			slog.Error("Failed to read streams.changed event", "error", err)
			continue
		}
		h.handle(ctx, changed)
	}
}

func (h *StreamChangeHandler) handle(ctx context.Context, changed *events.StreamChanged) {
	slog.Info("Received streams.changed event",
		"stream_id", changed.StreamID,
		"action", changed.Action,
		"version", changed.Version,
	)

	if err := h.reload.ReloadNow(ctx); err != nil {
		// Polling catches up eventually.
		slog.Error("Failed to reload streams after streams.changed event",
			"stream_id", changed.StreamID,
			"action", changed.Action,
			"error", err,
		)
		h.metrics.reloadFailed()
		return
	}
	h.metrics.reloaded()
}
