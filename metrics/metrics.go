// Package metrics exposes the disputeflow Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "disputeflow"

type Metrics struct {
	registry *prometheus.Registry

	Transitions          *prometheus.CounterVec
	DeadlineExtensions   prometheus.Counter
	DeadlinesExpired     prometheus.Counter
	VersionConflicts     *prometheus.CounterVec
	ArbitrationDecisions *prometheus.CounterVec
	DispatchFailures     prometheus.Counter
	SweepDuration        prometheus.Histogram
	SweepOpenWindows     prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Phase transitions applied, by source and target phase.",
		}, []string{"from", "to"}),
		DeadlineExtensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_extensions_total",
			Help:      "Deadline windows extended.",
		}),
		DeadlinesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadlines_expired_total",
			Help:      "Deadline windows marked EXPIRED by the sweep.",
		}),
		VersionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts, by operation.",
		}, []string{"op"}),
		ArbitrationDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitration_decisions_total",
			Help:      "Arbitration decisions recorded, by decision.",
		}, []string{"decision"}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Notification events that could not be published.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one deadline sweep tick.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SweepOpenWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_open_windows",
			Help:      "Cases with an open window seen by the last sweep tick.",
		}),
	}
	reg.MustRegister(
		m.Transitions,
		m.DeadlineExtensions,
		m.DeadlinesExpired,
		m.VersionConflicts,
		m.ArbitrationDecisions,
		m.DispatchFailures,
		m.SweepDuration,
		m.SweepOpenWindows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveExtension() {
	if m == nil {
		return
	}
	m.DeadlineExtensions.Inc()
}

func (m *Metrics) ObserveExpired() {
	if m == nil {
		return
	}
	m.DeadlinesExpired.Inc()
}

func (m *Metrics) ObserveConflict(op string) {
	if m == nil {
		return
	}
	m.VersionConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.ArbitrationDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveDispatchFailure() {
	if m == nil {
		return
	}
	m.DispatchFailures.Inc()
}

// ObserveSweep records one finished tick.
func (m *Metrics) ObserveSweep(took time.Duration, openWindows int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(took.Seconds())
	m.SweepOpenWindows.Set(float64(openWindows))
}
