// Package metrics exposes IPC activity as Prometheus collectors. A Metrics
// value implements the observer interfaces of the correlator, the service
// registry and the dispatcher.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const logPrefix = "metrics:metrics"

const namespace = "vault_ipc"

// Metrics holds the collectors of one node.
type Metrics struct {
	registry *prometheus.Registry

	callsSettled    *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	pendingCalls    prometheus.Gauge
	requestsHandled *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	envelopesRouted *prometheus.CounterVec
}

// Opts configures New.
type Opts struct {
	// ConstLabels are attached to every collector, e.g. the node identity.
	ConstLabels prometheus.Labels
	// WithRuntime also registers the Go runtime and process collectors.
	WithRuntime bool
}

// New creates the collectors and registers them on a private registry.
func New(opts Opts) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "correlator",
			Name:        "calls_total",
			Help:        "Outgoing calls by method and outcome.",
			ConstLabels: opts.ConstLabels,
		}, []string{"call", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "correlator",
			Name:        "call_duration_seconds",
			Help:        "Time from send to settlement of outgoing calls.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"call"}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "correlator",
			Name:        "pending_calls",
			Help:        "Outgoing calls awaiting a response.",
			ConstLabels: opts.ConstLabels,
		}),
		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "requests_total",
			Help:        "Inbound requests by service tag, method and outcome.",
			ConstLabels: opts.ConstLabels,
		}, []string{"tag", "call", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "request_duration_seconds",
			Help:        "Handler time of inbound requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"tag", "call"}),
		envelopesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "dispatcher",
			Name:        "envelopes_total",
			Help:        "Inbound envelopes by route.",
			ConstLabels: opts.ConstLabels,
		}, []string{"route"}),
	}

	cs := []prometheus.Collector{
		m.callsSettled, m.callDuration, m.pendingCalls,
		m.requestsHandled, m.requestDuration, m.envelopesRouted,
	}
	if opts.WithRuntime {
		cs = append(cs, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("%s - failed to register collector: %w", logPrefix, err)
		}
	}
	return m, nil
}

// CallSettled records the outcome of an outgoing call.
func (m *Metrics) CallSettled(name, outcome string, elapsed time.Duration) {
	m.callsSettled.WithLabelValues(name, outcome).Inc()
	m.callDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// PendingCalls records the number of outstanding calls.
func (m *Metrics) PendingCalls(n int) {
	m.pendingCalls.Set(float64(n))
}

// RequestHandled records an inbound request.
func (m *Metrics) RequestHandled(tag, call, outcome string, elapsed time.Duration) {
	m.requestsHandled.WithLabelValues(tag, call, outcome).Inc()
	m.requestDuration.WithLabelValues(tag, call).Observe(elapsed.Seconds())
}

// Routed records an inbound envelope.
func (m *Metrics) Routed(route string) {
	m.envelopesRouted.WithLabelValues(route).Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
