// Package metrics provides Prometheus metrics for schedule reconciliation.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	Reconciliations     *prometheus.CounterVec
	ReconcileDuration   *prometheus.HistogramVec
	HistoryEvents       *prometheus.CounterVec
	ExtractionWarnings  *prometheus.CounterVec
	SelfMedication      *prometheus.CounterVec
	SignalsConsumed     *prometheus.CounterVec
	EventsPublished     prometheus.Counter
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsched_reconciliations_total",
			Help: "Reconciliation passes by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medsched_reconcile_duration_seconds",
			Help:    "Reconciliation duration including record load and commit",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"trigger"}),
		HistoryEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsched_history_events_total",
			Help: "Medicine history events appended",
		}, []string{"change_type", "changed_by"}),
		ExtractionWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsched_extraction_warnings_total",
			Help: "Record rows skipped during medicine extraction",
		}, []string{"section"}),
		SelfMedication: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsched_self_medication_ops_total",
			Help: "Self-medication operations by kind and outcome",
		}, []string{"op", "outcome"}),
		SignalsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medsched_record_signals_total",
			Help: "Record signals consumed by outcome",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medsched_events_published_total",
			Help: "Schedule events published from the outbox",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medsched_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medsched_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Reconciliations,
			m.ReconcileDuration,
			m.HistoryEvents,
			m.ExtractionWarnings,
			m.SelfMedication,
			m.SignalsConsumed,
			m.EventsPublished,
			m.OutboxPending,
			m.CircuitBreakerState,
		)
	}
	return m
}

// ObserveReconcile records one reconciliation pass.
func (m *Metrics) ObserveReconcile(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(trigger, outcome).Inc()
	m.ReconcileDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// HistoryAppended counts n appended history events.
func (m *Metrics) HistoryAppended(changeType, changedBy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HistoryEvents.WithLabelValues(changeType, changedBy).Add(float64(n))
}

// ExtractionWarning counts one skipped record row.
func (m *Metrics) ExtractionWarning(section string) {
	if m == nil {
		return
	}
	m.ExtractionWarnings.WithLabelValues(section).Inc()
}

func (m *Metrics) SelfMedicationOp(op, outcome string) {
	if m == nil {
		return
	}
	m.SelfMedication.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Signal(outcome string) {
	if m == nil {
		return
	}
	m.SignalsConsumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Published(n int) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(float64(n))
}

func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// BreakerState exports a breaker state as a gauge value.
func (m *Metrics) BreakerState(name string, value float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(value)
}

// Handler returns the Prometheus HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
