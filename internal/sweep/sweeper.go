// Package sweep periodically evaluates every patient's due reminders and
// refill alerts and publishes the ones not yet delivered.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/infrastructure/redpanda"
	"github.com/caretrack/go-mar/internal/observability/metrics"
	"github.com/caretrack/go-mar/internal/refill"
	"github.com/caretrack/go-mar/internal/reminder"
	"github.com/caretrack/go-mar/pkg/circuitbreaker"
	"github.com/caretrack/go-mar/pkg/clock"
	"github.com/caretrack/go-mar/pkg/deliverylog"
	"github.com/caretrack/go-mar/pkg/workerpool"
)

// PatientSource lists the patients the sweep evaluates.
type PatientSource interface {
	ListPatients(ctx context.Context) ([]string, error)
}

// Publisher sends one notification to the broker.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// Config holds sweeper configuration
type Config struct {
	// Interval is the sweep cadence. Must be shorter than the smallest
	// advance lead or reminders at the window edge are skipped.
	Interval time.Duration
	// ReminderTopic receives the dose reminder notifications
	ReminderTopic string
	// RefillTopic receives the refill alerts
	RefillTopic string
	// Pool sizes the per-patient evaluation workers
	Pool workerpool.Config
}

// DefaultConfig returns a one-minute sweep cadence
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		ReminderTopic: redpanda.TopicReminderNotifications,
		RefillTopic:   redpanda.TopicRefillAlerts,
		Pool:          workerpool.DefaultConfig(),
	}
}

// Deps bundles the sweeper's collaborators.
type Deps struct {
	Patients   PatientSource
	Meds       reminder.MedicationLister
	Engine     *reminder.Engine
	Forecaster *refill.Forecaster
	Settings   reminder.SettingsStore
	Deliveries *deliverylog.Log
	Publisher  Publisher
	Breaker    *circuitbreaker.CircuitBreaker
	Metrics    *metrics.Metrics
}

// RefillAlert is the notification payload for a due refill.
type RefillAlert struct {
	PatientID    string           `json:"patient_id"`
	MedicationID string           `json:"medication_id"`
	Medication   string           `json:"medication"`
	Forecast     *refill.Forecast `json:"forecast"`
}

// Sweeper drives the notification delivery loop. Each tick it fans patients
// out to a worker pool; each worker computes the patient's due reminders and
// refill alerts, claims each one in the delivery log and publishes the
// claimed ones through a circuit breaker.
type Sweeper struct {
	deps   Deps
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger

	pool   *workerpool.Pool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper.
func New(deps Deps, cfg Config, clk clock.Clock, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	s := &Sweeper{
		deps:   deps,
		cfg:    cfg,
		clk:    clk,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	pool, err := workerpool.New(cfg.Pool, s.sweepPatient, logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	s.pool.Start()
	go s.drainResults()
	go s.loop()
	s.logger.Info("reminder sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("reminder_topic", s.cfg.ReminderTopic),
		zap.String("refill_topic", s.cfg.RefillTopic))
}

// Stop gracefully stops the sweeper
func (s *Sweeper) Stop() error {
	s.cancel()
	<-s.done
	if err := s.pool.Stop(); err != nil {
		return err
	}
	s.logger.Info("reminder sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(s.ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce submits every patient for evaluation. Per-patient failures are
// isolated: one bad patient never blocks the rest of the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := s.clk.Now()

	patients, err := s.deps.Patients.ListPatients(ctx)
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}

	for _, patientID := range patients {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.pool.Submit(&workerpool.Task{
			Key:     patientID,
			Context: ctx,
		})
		if err != nil {
			s.logger.Warn("sweep submit failed",
				zap.String("patient_id", patientID),
				zap.Error(err))
			s.deps.Metrics.SweepPatientErrors.Inc()
		}
	}

	s.deps.Metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.deps.Metrics.CircuitBreakerState.
		WithLabelValues(s.deps.Breaker.Name()).
		Set(breakerStateValue(s.deps.Breaker.GetState()))
	s.logger.Debug("sweep submitted", zap.Int("patients", len(patients)))
	return nil
}

func breakerStateValue(st circuitbreaker.State) float64 {
	switch st {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// sweepPatient evaluates and delivers one patient's notifications.
func (s *Sweeper) sweepPatient(ctx context.Context, task *workerpool.Task) error {
	patientID := task.Key
	now := s.clk.Now()

	due, err := s.deps.Engine.DueReminders(ctx, patientID, now)
	if err != nil {
		return fmt.Errorf("due reminders for %s: %w", patientID, err)
	}

	for _, rem := range due {
		s.deps.Metrics.RemindersDue.WithLabelValues(string(rem.Kind)).Inc()

		if err := s.deliverReminder(ctx, rem); err != nil {
			// Keep going; the failed reminder is retried next sweep.
			s.logger.Warn("reminder delivery failed",
				zap.String("patient_id", rem.PatientID),
				zap.String("medication_id", rem.MedicationID),
				zap.Time("scheduled_at", rem.ScheduledAt),
				zap.Error(err))
		}
	}

	if err := s.sweepRefills(ctx, patientID, now); err != nil {
		return fmt.Errorf("refill sweep for %s: %w", patientID, err)
	}
	return nil
}

func (s *Sweeper) deliverReminder(ctx context.Context, rem reminder.Reminder) error {
	key := deliverylog.Key(rem.MedicationID, rem.ScheduledAt, string(rem.Kind))

	payload, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}

	published, err := s.publish(ctx, s.cfg.ReminderTopic, key, rem.PatientID, payload)
	if err != nil {
		return err
	}
	if published {
		s.deps.Metrics.RemindersPublished.Inc()
	}
	return nil
}

// sweepRefills emits at most one refill alert per medication per day.
func (s *Sweeper) sweepRefills(ctx context.Context, patientID string, now time.Time) error {
	settings, err := s.deps.Settings.Get(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return nil
	}

	meds, err := s.deps.Meds.ListActive(ctx, patientID)
	if err != nil {
		return fmt.Errorf("list medications: %w", err)
	}

	loc := settings.Location()
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for _, med := range meds {
		if med.AsNeeded() {
			continue
		}

		// Today's alert may have gone out on an earlier sweep; skip the
		// forecast entirely in that case.
		key := deliverylog.Key(med.ID, day, "refill")
		if delivered, err := s.deps.Deliveries.Delivered(ctx, key); err == nil && delivered {
			continue
		}

		forecast, err := s.deps.Forecaster.Evaluate(med, settings.RefillLeadDays, loc)
		if err != nil {
			if errors.Is(err, refill.ErrIndeterminateConsumption) {
				s.logger.Warn("refill forecast skipped",
					zap.String("medication_id", med.ID),
					zap.Error(err))
				continue
			}
			return err
		}
		if !forecast.RefillDue && !forecast.NoRefillsRemaining {
			continue
		}

		alert := RefillAlert{
			PatientID:    patientID,
			MedicationID: med.ID,
			Medication:   med.Name,
			Forecast:     forecast,
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshal refill alert: %w", err)
		}

		published, err := s.publish(ctx, s.cfg.RefillTopic, key, patientID, payload)
		if err != nil {
			s.logger.Warn("refill alert delivery failed",
				zap.String("medication_id", med.ID),
				zap.Error(err))
			continue
		}
		if published {
			s.deps.Metrics.RefillAlerts.WithLabelValues(string(forecast.Level)).Inc()
		}
	}
	return nil
}

// publish claims the delivery key and, when this sweep won the claim, sends
// the payload through the circuit breaker. The claim is released on a failed
// publish so the next sweep retries.
func (s *Sweeper) publish(ctx context.Context, topic, key, patientID string, payload []byte) (bool, error) {
	claimed, err := s.deps.Deliveries.Claim(ctx, key, patientID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		s.deps.Metrics.RemindersSuppressed.Inc()
		return false, nil
	}

	_, err = s.deps.Breaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.deps.Publisher.ProduceMessage(ctx, topic, key, payload)
	})
	if err != nil {
		if relErr := s.deps.Deliveries.Release(ctx, key); relErr != nil {
			s.logger.Error("release claim failed", zap.String("key", key), zap.Error(relErr))
		}
		return false, fmt.Errorf("publish: %w", err)
	}

	s.deps.Metrics.KafkaMessagesProduced.Inc()
	return true, nil
}

func (s *Sweeper) drainResults() {
	for result := range s.pool.Results() {
		if !result.Success {
			s.deps.Metrics.SweepPatientErrors.Inc()
			s.logger.Warn("patient sweep failed",
				zap.String("patient_id", result.Key),
				zap.Error(result.Error))
		}
	}
}
