// Package stats exposes the protocol's counters and timers as
// Prometheus metrics through a private registry rather than the global
// default registerer, so a swimring-agent embedded in another binary
// doesn't pollute the host's default registry.
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the per-node metrics surface. It satisfies gossip.Stats and
// swimring.Stats, so the packages that emit counters/timers depend on
// those small interfaces, not on Prometheus directly.
type Sink struct {
	registry *prometheus.Registry
	counters *prometheus.CounterVec
	timers   *prometheus.HistogramVec
	gauges   *prometheus.GaugeVec
}

// New creates a Sink scoped to one node, labeled with its host:port so
// metrics from several local test nodes don't collide.
func New(app, hostPort string) *Sink {
	registry := prometheus.NewRegistry()
	s := &Sink{
		registry: registry,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "swimring",
			Name:        "events_total",
			Help:        "Protocol event counters (ping, ping-req, membership updates, etc).",
			ConstLabels: prometheus.Labels{"app": app, "node": hostPort},
		}, []string{"name"}),
		timers: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "swimring",
			Name:        "event_duration_seconds",
			Help:        "Latency of protocol round trips (ping, ping-req, ping-req-ping).",
			ConstLabels: prometheus.Labels{"app": app, "node": hostPort},
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"name"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "swimring",
			Name:        "gauge",
			Help:        "Point-in-time protocol gauges (num-members).",
			ConstLabels: prometheus.Labels{"app": app, "node": hostPort},
		}, []string{"name"}),
	}
	registry.MustRegister(s.counters, s.timers, s.gauges)
	return s
}

// IncrCounter increments the named counter by one.
func (s *Sink) IncrCounter(name string) {
	s.counters.WithLabelValues(name).Inc()
}

// ObserveTimer records a duration sample for the named timer.
func (s *Sink) ObserveTimer(name string, d time.Duration) {
	s.timers.WithLabelValues(name).Observe(d.Seconds())
}

// SetGauge sets a point-in-time value, e.g. num-members.
func (s *Sink) SetGauge(name string, v float64) {
	s.gauges.WithLabelValues(name).Set(v)
}

// Handler exposes /metrics for this sink's private registry.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
