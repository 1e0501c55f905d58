// Package metrics exposes Prometheus instrumentation for sync and
// subscription traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. One instance per process, registered on
// its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	SyncOperations   *prometheus.CounterVec
	NodeFailures     *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	SubscriptionHits *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SyncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xui_central",
			Name:      "sync_operations_total",
			Help:      "Sync fan-out operations by operation and overall status.",
		}, []string{"operation", "status"}),
		NodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xui_central",
			Name:      "node_failures_total",
			Help:      "Per-node failures during fan-out, by failure kind.",
		}, []string{"node", "kind"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xui_central",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a whole fan-out operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		SubscriptionHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xui_central",
			Name:      "subscription_requests_total",
			Help:      "Subscription payload requests by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.SyncOperations,
		m.NodeFailures,
		m.SyncDuration,
		m.SubscriptionHits,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
