package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streamrouter/pkg/metrics"
)

// NewRouter builds the chi router for the configured handlers.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.metricsCollector != nil {
		r.Use(countRequests(h.metricsCollector))
	}

	r.Get("/health", h.Health)
	if h.metricsCollector != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(h.metricsCollector))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if h.metricsReader != nil {
			r.Get("/services/metrics", h.GetServiceMetrics)
		}
		if h.router != nil {
			r.Get("/routing", h.GetRouting)
		}
		if h.router != nil && h.streams != nil {
			r.Post("/streams/{streamID}/testMatch", h.TestMatch)
		}
	})
	return r
}

// countRequests records every API request in the collector.
func countRequests(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.IncrementCustom("http_requests")
			next.ServeHTTP(w, r)
		})
	}
}

// NewServer creates a new HTTP server with the router configured.
func NewServer(addr string, h *Handlers) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
