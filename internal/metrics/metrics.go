// Package metrics exposes Prometheus metrics for the request lifecycle and
// the transport. All Record methods are safe on a nil *Collector, so metrics
// stay optional for every component.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Suppression reasons.
const (
	ReasonPending = "pending"
	ReasonVetoed  = "vetoed"
)

// Collector groups the lifecycle and transport metrics.
type Collector struct {
	dispatchedTotal  *prometheus.CounterVec
	suppressedTotal  *prometheus.CounterVec
	completionsTotal *prometheus.CounterVec
	deferredTotal    *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	orphansTotal     prometheus.Counter
	registrySize     prometheus.Gauge

	jobsInFlight      prometheus.Gauge
	transportDuration *prometheus.HistogramVec
	transportErrors   *prometheus.CounterVec
}

// New creates a collector on the default registerer.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on registry.
func NewWithRegistry(registry prometheus.Registerer) *Collector {
	factory := promauto.With(registry)
	return &Collector{
		dispatchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restlc_requests_dispatched_total",
				Help: "Requests handed to the transport",
			},
			[]string{"verb"},
		),
		suppressedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restlc_requests_suppressed_total",
				Help: "Dispatch attempts suppressed by a pending request or the dispatch policy",
			},
			[]string{"verb", "reason"},
		),
		completionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restlc_completions_total",
				Help: "Completions received from the transport",
			},
			[]string{"verb", "outcome"},
		),
		deferredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restlc_deliveries_deferred_total",
				Help: "Terminal events queued while listeners were paused",
			},
			[]string{"outcome"},
		),
		retriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "restlc_retries_total",
				Help: "Requests re-dispatched by a retry sweep",
			},
		),
		orphansTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "restlc_completions_orphaned_total",
				Help: "Completions for identities absent from the registry",
			},
		),
		registrySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "restlc_registry_size",
				Help: "Requests currently held by the registry",
			},
		),
		jobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "restlc_transport_jobs_in_flight",
				Help: "Jobs accepted by the transport and not yet released",
			},
		),
		transportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restlc_transport_duration_seconds",
				Help:    "Duration of HTTP exchanges performed by the transport",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),
		transportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restlc_transport_errors_total",
				Help: "Transport faults translated into failure completions",
			},
			[]string{"type"},
		),
	}
}

func (c *Collector) RecordDispatched(verb string) {
	if c == nil {
		return
	}
	c.dispatchedTotal.WithLabelValues(verb).Inc()
}

func (c *Collector) RecordSuppressed(verb, reason string) {
	if c == nil {
		return
	}
	c.suppressedTotal.WithLabelValues(verb, reason).Inc()
}

// RecordCompletion counts a completion; outcome is "success" or "failure".
func (c *Collector) RecordCompletion(verb, outcome string) {
	if c == nil {
		return
	}
	c.completionsTotal.WithLabelValues(verb, outcome).Inc()
}

func (c *Collector) RecordDeferred(outcome string) {
	if c == nil {
		return
	}
	c.deferredTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

func (c *Collector) RecordOrphan() {
	if c == nil {
		return
	}
	c.orphansTotal.Inc()
}

func (c *Collector) SetRegistrySize(n int) {
	if c == nil {
		return
	}
	c.registrySize.Set(float64(n))
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsInFlight.Inc()
}

func (c *Collector) JobReleased() {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
}

func (c *Collector) RecordExchange(verb string, d time.Duration) {
	if c == nil {
		return
	}
	c.transportDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// RecordTransportError counts a fault; errType is "enqueue", "network" or "request".
func (c *Collector) RecordTransportError(errType string) {
	if c == nil {
		return
	}
	c.transportErrors.WithLabelValues(errType).Inc()
}
