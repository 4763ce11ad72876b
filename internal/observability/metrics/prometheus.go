// Package metrics provides Prometheus metrics for the adherence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	MedicationsCreated    prometheus.Counter
	DosesRecorded         *prometheus.CounterVec
	DosesDuplicate        prometheus.Counter
	RemindersDue          *prometheus.CounterVec
	RemindersPublished    prometheus.Counter
	RemindersSuppressed   prometheus.Counter
	SweepDuration         prometheus.Histogram
	SweepPatientErrors    prometheus.Counter
	RefillAlerts          *prometheus.CounterVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		MedicationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medications_created_total",
			Help: "Total medications created",
		}),
		DosesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doses_recorded_total",
			Help: "Total dose outcomes recorded",
		}, []string{"outcome"}),
		DosesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_duplicate_total",
			Help: "Dose records rejected as already recorded",
		}),
		RemindersDue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_due_total",
			Help: "Reminders computed as due by the sweep",
		}, []string{"kind"}),
		RemindersPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_published_total",
			Help: "Reminder notifications published to the broker",
		}),
		RemindersSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_suppressed_total",
			Help: "Reminders suppressed by the delivery log",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminder_sweep_duration_seconds",
			Help:    "Duration of a full reminder sweep",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SweepPatientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_sweep_patient_errors_total",
			Help: "Patients skipped during a sweep due to errors",
		}),
		RefillAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refill_alerts_total",
			Help: "Refill alerts emitted",
		}, []string{"level"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.MedicationsCreated,
		m.DosesRecorded,
		m.DosesDuplicate,
		m.RemindersDue,
		m.RemindersPublished,
		m.RemindersSuppressed,
		m.SweepDuration,
		m.SweepPatientErrors,
		m.RefillAlerts,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
