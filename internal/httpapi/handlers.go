// Package httpapi provides the operational HTTP surface of both services:
// health, metrics and the stream test-match diagnostic.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamrouter/internal/database"
	"streamrouter/internal/message"
	"streamrouter/internal/streams"
	"streamrouter/pkg/metrics"
)

// maxBodyBytes bounds request bodies of the diagnostic endpoints.
const maxBodyBytes = 1 << 20

// StreamLoader loads a single stream with its rules, enabled or not.
type StreamLoader interface {
	LoadStream(ctx context.Context, streamID string) (*streams.Stream, error)
}

// StreamMatcher is the read side of the stream router.
type StreamMatcher interface {
	TestMatch(stream *streams.Stream, msg *message.Message) (bool, map[string]bool)
	Fingerprint() string
	RebuildCount() uint64
	StreamCount() int
}

// Handlers wraps dependencies for HTTP handlers. Nil dependencies disable
// the routes that need them.
type Handlers struct {
	streams          StreamLoader
	router           StreamMatcher
	metricsReader    *metrics.Reader
	metricsCollector *metrics.Collector
}

// NewHandlers creates a new handlers instance.
func NewHandlers(streamLoader StreamLoader, router StreamMatcher, metricsReader *metrics.Reader, metricsCollector *metrics.Collector) *Handlers {
	return &Handlers{
		streams:          streamLoader,
		router:           router,
		metricsReader:    metricsReader,
		metricsCollector: metricsCollector,
	}
}

// TestMatchRequest is the body of a test-match request.
type TestMatchRequest struct {
	Message map[string]any `json:"message"`
}

// TestMatchResponse reports the stream verdict and each rule's result.
type TestMatchResponse struct {
	Matches bool            `json:"matches"`
	Rules   map[string]bool `json:"rules"`
}

// TestMatch evaluates a stream's rules against a sample message.
// POST /api/v1/streams/{streamID}/testMatch
func (h *Handlers) TestMatch(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	var req TestMatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == nil {
		http.Error(w, "Missing message", http.StatusBadRequest)
		return
	}

	stream, err := h.streams.LoadStream(r.Context(), streamID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load stream for test match", "stream_id", streamID, "error", err)
		http.Error(w, "Failed to load stream", http.StatusInternalServerError)
		return
	}

	matches, rules := h.router.TestMatch(stream, message.New("", req.Message))
	writeJSON(w, http.StatusOK, TestMatchResponse{Matches: matches, Rules: rules})
}

// RoutingResponse describes the routing table currently in use.
type RoutingResponse struct {
	Fingerprint  string `json:"fingerprint"`
	StreamsCount int    `json:"streams_count"`
	Rebuilds     uint64 `json:"rebuilds"`
}

// GetRouting returns the state of the routing table.
// GET /api/v1/routing
func (h *Handlers) GetRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoutingResponse{
		Fingerprint:  h.router.Fingerprint(),
		StreamsCount: h.router.StreamCount(),
		Rebuilds:     h.router.RebuildCount(),
	})
}

// ServiceMetricsResponse wraps service metrics with known service list.
type ServiceMetricsResponse struct {
	Services      map[string]*metrics.ServiceMetrics `json:"services"`
	KnownServices []string                           `json:"known_services"`
}

// GetServiceMetrics returns the metrics every service reported to Redis.
// GET /api/v1/services/metrics
func (h *Handlers) GetServiceMetrics(w http.ResponseWriter, r *http.Request) {
	services, err := h.metricsReader.GetAllServiceMetrics(r.Context())
	if err != nil {
		slog.Error("Failed to get service metrics", "error", err)
		http.Error(w, "Failed to retrieve metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ServiceMetricsResponse{
		Services:      services,
		KnownServices: metrics.ServiceNames,
	})
}

// Health reports liveness.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
