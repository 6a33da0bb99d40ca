package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sla_engine"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SweepRuns       *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	TicketsScanned  prometheus.Counter
	Breaches        *prometheus.CounterVec
	Enqueued        *prometheus.CounterVec
	Duplicates      *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
	Poison          prometheus.Counter
	DeadLettered    prometheus.Counter
	Pending         prometheus.Gauge
}

// NewMetrics registers the engine collectors on a fresh registry.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Threshold sweeps by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one threshold sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		TicketsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_tickets_scanned_total",
			Help:      "Tickets examined by threshold sweeps.",
		}),
		Breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaches_total",
			Help:      "Dimensions marked breached.",
		}, []string{"dimension"}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_enqueued_total",
			Help:      "Outbox messages inserted by kind.",
		}, []string{"kind"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_duplicates_total",
			Help:      "Enqueue attempts skipped on an existing dedupe key.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_delivery_seconds",
			Help:      "Mailer call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Poison: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_poison_total",
			Help:      "Messages acknowledged without delivery because they could not be decoded.",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dead_lettered_total",
			Help:      "Messages moved out of polling after exhausting attempts.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Unsent, live outbox rows at the last poll.",
		}),
	}

	collectors := []prometheus.Collector{
		m.SweepRuns, m.SweepDuration, m.TicketsScanned, m.Breaches,
		m.Enqueued, m.Duplicates, m.Deliveries, m.DeliveryLatency,
		m.Poison, m.DeadLettered, m.Pending,
		prometheus.NewGoCollector(),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSweep counts a finished sweep.
func (m *Metrics) RecordSweep(outcome string, scanned int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.TicketsScanned.Add(float64(scanned))
}

// RecordBreach counts a dimension transitioning to breached.
func (m *Metrics) RecordBreach(dimension string) {
	if m == nil {
		return
	}
	m.Breaches.WithLabelValues(dimension).Inc()
}

// RecordEnqueue counts an enqueue attempt; inserted is false for duplicates.
func (m *Metrics) RecordEnqueue(kind string, inserted bool) {
	if m == nil {
		return
	}
	if inserted {
		m.Enqueued.WithLabelValues(kind).Inc()
		return
	}
	m.Duplicates.WithLabelValues(kind).Inc()
}

// RecordDelivery counts one mailer call.
func (m *Metrics) RecordDelivery(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, outcome).Inc()
	m.DeliveryLatency.Observe(duration.Seconds())
}

// RecordPoison counts a message that could not be decoded or rendered.
func (m *Metrics) RecordPoison() {
	if m == nil {
		return
	}
	m.Poison.Inc()
}

// RecordDeadLetter counts a message that exhausted its attempts.
func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.DeadLettered.Inc()
}

// SetPending reports the current outbox backlog.
func (m *Metrics) SetPending(n int64) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
