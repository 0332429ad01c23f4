package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values for gpucep_events_total.
const (
	OutcomeReceived  = "received"
	OutcomeDropped   = "dropped"
	OutcomeDerived   = "derived"
	OutcomeDelivered = "delivered"
	OutcomeTruncated = "truncated"
)

// Metrics holds the engine's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	events           *prometheus.CounterVec
	dispatches       prometheus.Counter
	dispatchDuration prometheus.Histogram
	workerErrors     prometheus.Counter
	rules            prometheus.Gauge
	depth            prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpucep_events_total",
				Help: "Events seen by the engine, by outcome",
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gpucep_dispatches_total",
				Help: "Dispatches handed to the processor pool",
			},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gpucep_dispatch_duration_seconds",
				Help:    "Time from hand-off until every scheduled unit reported",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		workerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gpucep_worker_errors_total",
				Help: "Unit evaluations that returned an error",
			},
		),
		rules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gpucep_rules",
				Help: "Installed rules",
			},
		),
		depth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gpucep_derived_depth",
				Help:    "Recursion depth of delivered derived events",
				Buckets: prometheus.LinearBuckets(1, 1, 8),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.dispatches, m.dispatchDuration, m.workerErrors, m.rules, m.depth)
	}
	return m
}

func (m *Metrics) event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) dispatched(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) workerError() {
	if m == nil {
		return
	}
	m.workerErrors.Inc()
}

func (m *Metrics) setRules(n int) {
	if m == nil {
		return
	}
	m.rules.Set(float64(n))
}

func (m *Metrics) delivered(depth int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(OutcomeDelivered).Inc()
	m.depth.Observe(float64(depth))
}
