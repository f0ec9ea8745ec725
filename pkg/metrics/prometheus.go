package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamrouter"

// PrometheusCollector exports a Collector's counters in Prometheus format.
// Values are read from the Collector at scrape time.
type PrometheusCollector struct {
	c *Collector

	received   *prometheus.Desc
	processed  *prometheus.Desc
	published  *prometheus.Desc
	errors     *prometheus.Desc
	avgLatency *prometheus.Desc
	custom     *prometheus.Desc
}

// NewPrometheusCollector wraps c for registration with a Prometheus registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	labels := prometheus.Labels{"service": c.serviceName}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	return &PrometheusCollector{
		c:          c,
		received:   desc("messages_received_total", "Messages received since start."),
		processed:  desc("messages_processed_total", "Messages processed since start."),
		published:  desc("messages_published_total", "Messages published since start."),
		errors:     desc("processing_errors_total", "Processing errors since start."),
		avgLatency: desc("processing_latency_avg_seconds", "Average processing latency since start."),
		custom:     desc("events_total", "Service specific counters.", "name"),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.received
	ch <- p.processed
	ch <- p.published
	ch <- p.errors
	ch <- p.avgLatency
	ch <- p.custom
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.c.GetSnapshot()
	ch <- prometheus.MustNewConstMetric(p.received, prometheus.CounterValue, float64(snap.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(p.processed, prometheus.CounterValue, float64(snap.MessagesProcessed))
	ch <- prometheus.MustNewConstMetric(p.published, prometheus.CounterValue, float64(snap.MessagesPublished))
	ch <- prometheus.MustNewConstMetric(p.errors, prometheus.CounterValue, float64(snap.ProcessingErrors))
	ch <- prometheus.MustNewConstMetric(p.avgLatency, prometheus.GaugeValue, snap.AvgProcessingLatencyNs/1e9)
	for name, value := range snap.CustomCounters {
		ch <- prometheus.MustNewConstMetric(p.custom, prometheus.CounterValue, float64(value), name)
	}
}

// Handler returns an HTTP handler serving the collector's metrics on a
// dedicated registry.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewPrometheusCollector(c))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
