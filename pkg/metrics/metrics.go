// Package metrics collects per-service counters for the router and the alert
// checker. Snapshots are reported to Redis so any instance can serve the
// metrics of every service, and are exported to Prometheus by PrometheusCollector.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long a report stays in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second

	StatusHealthy = "healthy"
	StatusStale   = "unhealthy"
)

// ErrNoMetrics is returned when a service has never reported or its report expired.
var ErrNoMetrics = errors.New("no metrics reported")

// ServiceNames lists the services of this module, in the order they are displayed.
var ServiceNames = []string{
	"router",
	"alertchecker",
}

// ServiceMetrics is one report of a service.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	// MessagesPerSecond is measured over the last report interval.
	MessagesPerSecond float64 `json:"messages_per_second"`
	// AvgProcessingLatencyNs is the average since start.
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector counts events of one service. All recording methods are safe for
// concurrent use and never block on Redis.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64
	latencyNs atomic.Uint64
	latencyN  atomic.Uint64

	custom sync.Map // name -> *atomic.Uint64

	// rate is the processed count at the last report.
	rateMu        sync.Mutex
	rateSince     time.Time
	rateProcessed uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector for the service. A nil Redis client keeps
// counting in memory only.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		rateSince:      now,
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval changes the Redis report interval. Call before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start reports to Redis every interval until ctx is cancelled or Stop is called.
// A final report is written on the way out.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.report(context.Background())
				return
			case <-c.stopCh:
				c.report(context.Background())
				return
			case <-ticker.C:
				c.report(ctx)
			}
		}
	}()
}

// Stop ends reporting and waits for the final report. Safe to call twice.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) RecordReceived() { c.received.Add(1) }

// RecordProcessed counts a handled message or check and its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	if latency > 0 {
		c.latencyNs.Add(uint64(latency))
	}
	c.latencyN.Add(1)
}

func (c *Collector) RecordPublished() { c.published.Add(1) }

func (c *Collector) RecordError() { c.errors.Add(1) }

// IncrementCustom increments the named counter, creating it on first use.
func (c *Collector) IncrementCustom(name string) {
	c.counter(name).Add(1)
}

// AddCustom adds value to the named counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.counter(name).Add(value)
}

func (c *Collector) counter(name string) *atomic.Uint64 {
	if v, ok := c.custom.Load(name); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.custom.LoadOrStore(name, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// GetSnapshot returns the current counters without touching Redis.
func (c *Collector) GetSnapshot() *ServiceMetrics {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.rateMu.Lock()
	var rate float64
	if elapsed := now.Sub(c.rateSince).Seconds(); elapsed > 0 && processed >= c.rateProcessed {
		rate = float64(processed-c.rateProcessed) / elapsed
	}
	c.rateMu.Unlock()

	var avgLatency float64
	if n := c.latencyN.Load(); n > 0 {
		avgLatency = float64(c.latencyNs.Load()) / float64(n)
	}

	custom := make(map[string]uint64)
	c.custom.Range(func(k, v any) bool {
		custom[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})

	return &ServiceMetrics{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 StatusHealthy,
		MessagesReceived:       c.received.Load(),
		MessagesProcessed:      processed,
		MessagesPublished:      c.published.Load(),
		ProcessingErrors:       c.errors.Load(),
		MessagesPerSecond:      rate,
		AvgProcessingLatencyNs: avgLatency,
		CustomCounters:         custom,
	}
}

// report writes a snapshot to Redis and starts a new rate window.
func (c *Collector) report(ctx context.Context) {
	if c.redis == nil {
		return
	}
	snap := c.GetSnapshot()

	c.rateMu.Lock()
	c.rateSince = snap.LastUpdated
	c.rateProcessed = snap.MessagesProcessed
	c.rateMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}
	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}

// Reader reads the reports of every service from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// GetServiceMetrics returns the last report of a service. A report older than
// MetricsTTL is returned with Status set to StatusStale.
func (r *Reader) GetServiceMetrics(ctx context.Context, serviceName string) (*ServiceMetrics, error) {
	data, err := r.redis.Get(ctx, MetricsKeyPrefix+serviceName).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("service %s: %w", serviceName, ErrNoMetrics)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var m ServiceMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics of %s: %w", serviceName, err)
	}
	if time.Since(m.LastUpdated) > MetricsTTL {
		m.Status = StatusStale
	}
	return &m, nil
}

// GetAllServiceMetrics returns the reports of every service that has a key,
// keyed by service name. Unreadable reports are logged and left out.
func (r *Reader) GetAllServiceMetrics(ctx context.Context) (map[string]*ServiceMetrics, error) {
	result := make(map[string]*ServiceMetrics)
	iter := r.redis.Scan(ctx, 0, MetricsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		serviceName := iter.Val()[len(MetricsKeyPrefix):]
		m, err := r.GetServiceMetrics(ctx, serviceName)
		if err != nil {
			slog.Warn("Failed to read metrics for service", "service", serviceName, "error", err)
			continue
		}
		result[serviceName] = m
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list metrics keys: %w", err)
	}
	return result, nil
}
