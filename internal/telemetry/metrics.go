// Package telemetry exposes Prometheus instrumentation for the brain.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the brain reports. A single instance is
// constructed at the application root and passed down; this keeps replay tests
// free of global registry state.
type Metrics struct {
	registry *prometheus.Registry

	IntentsReceived   prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec // label: outcome
	GateRejections    *prometheus.CounterVec // label: gate
	QueueDepth        prometheus.Gauge
	QueueDropped      prometheus.Counter
	BatchLatency      prometheus.Histogram
	BreakerState      prometheus.Gauge // 0 closed, 1 half-open, 2 open
	BreakerTrips      prometheus.Counter
	AllocationWeight  *prometheus.GaugeVec // label: phase
	SweepsTotal       prometheus.Counter
	SweptAmount       prometheus.Counter
	SweepFailures     prometheus.Counter
	HighWatermark     prometheus.Gauge
	EventsAppended    prometheus.Counter
	ReplayedEvents    prometheus.Counter
	RoutesPlanned     *prometheus.CounterVec // label: algorithm
	ShutdownDiscarded prometheus.Counter
}

// New builds a metrics set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		IntentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_intents_received_total",
			Help: "Trade intents admitted into the pipeline.",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brain_risk_decisions_total",
			Help: "Risk decisions by outcome.",
		}, []string{"outcome"}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brain_risk_gate_rejections_total",
			Help: "Rejections by failing gate.",
		}, []string{"gate"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brain_hft_queue_depth",
			Help: "Current priority queue depth.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_hft_queue_dropped_total",
			Help: "Signals dropped because the queue was full.",
		}),
		BatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brain_hft_batch_latency_seconds",
			Help:    "End-to-end batch processing latency.",
			Buckets: prometheus.ExponentialBuckets(0.000050, 2, 12),
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brain_hft_breaker_state",
			Help: "Latency breaker state (0 closed, 1 half-open, 2 open).",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_hft_breaker_trips_total",
			Help: "Latency breaker open transitions.",
		}),
		AllocationWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brain_allocation_weight",
			Help: "Current allocation weight per phase.",
		}, []string{"phase"}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_treasury_sweeps_total",
			Help: "Successful treasury sweeps.",
		}),
		SweptAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_treasury_swept_amount_total",
			Help: "Cumulative amount swept to spot.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_treasury_sweep_failures_total",
			Help: "Sweeps that exhausted their retries.",
		}),
		HighWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brain_treasury_high_watermark",
			Help: "Current equity high watermark.",
		}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_eventlog_appended_total",
			Help: "Entries appended to the event log.",
		}),
		ReplayedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_recovery_replayed_total",
			Help: "Events replayed during state recovery.",
		}),
		RoutesPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brain_router_plans_total",
			Help: "Routing decisions by algorithm.",
		}, []string{"algorithm"}),
		ShutdownDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brain_shutdown_discarded_total",
			Help: "Queued signals discarded after the drain grace period.",
		}),
	}

	reg.MustRegister(
		m.IntentsReceived, m.DecisionsTotal, m.GateRejections,
		m.QueueDepth, m.QueueDropped, m.BatchLatency,
		m.BreakerState, m.BreakerTrips,
		m.AllocationWeight,
		m.SweepsTotal, m.SweptAmount, m.SweepFailures, m.HighWatermark,
		m.EventsAppended, m.ReplayedEvents,
		m.RoutesPlanned, m.ShutdownDiscarded,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
