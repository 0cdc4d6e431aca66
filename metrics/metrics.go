// Package metrics instruments the SDK with Prometheus counters. A Collector
// plugs into the client as a request observer and into status monitors as a
// poll observer; agents that expose an HTTP endpoint can mount Handler to
// scrape it.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a dedicated Prometheus registry so embedding applications
// never collide with the SDK's metric names.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollsTotal      *prometheus.CounterVec
	activeMonitors  prometheus.Gauge
}

// NewCollector builds a Collector with all metrics registered.
func NewCollector() *Collector {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentpay_requests_total",
		Help: "Total payment service requests by endpoint, method and status class",
	}, []string{"endpoint", "method", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentpay_request_duration_seconds",
		Help:    "Payment service round-trip duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentpay_monitor_polls_total",
		Help: "Status monitor polls by result",
	}, []string{"result"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentpay_monitors_active",
		Help: "Number of running status monitors",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(requests, duration, polls, active)

	return &Collector{
		registry:        r,
		requestsTotal:   requests,
		requestDuration: duration,
		pollsTotal:      polls,
		activeMonitors:  active,
	}
}

// Handler exposes the collector's registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest implements the client's request observer.
func (c *Collector) ObserveRequest(endpoint, method string, status int, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(endpoint, method, statusClass(status)).Inc()
	c.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObservePoll implements the monitor's poll observer.
func (c *Collector) ObservePoll(result string) {
	c.pollsTotal.WithLabelValues(result).Inc()
}

// MonitorStarted records a monitor loop starting.
func (c *Collector) MonitorStarted() {
	c.activeMonitors.Inc()
}

// MonitorStopped records a monitor loop exiting.
func (c *Collector) MonitorStopped() {
	c.activeMonitors.Dec()
}

// statusClass buckets an HTTP status; 0 means the round trip itself failed.
func statusClass(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return fmt.Sprintf("%dxx", status/100)
}
