package adherence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/schedule"
	"github.com/caretrack/go-mar/pkg/clock"
)

// MedicationSource supplies medication snapshots. Implemented by the
// event-store repository; narrowed here so the tracker stays testable with
// in-memory fakes.
type MedicationSource interface {
	Get(ctx context.Context, medicationID string) (*medication.Medication, error)
}

// Preferences carries the per-patient values the tracker needs: the
// canonical zone for schedule expansion and the missed-dose grace delay.
type Preferences struct {
	Location      *time.Location
	FollowupDelay time.Duration
}

// PreferenceSource supplies per-patient tracker preferences.
type PreferenceSource interface {
	Preferences(ctx context.Context, patientID string) (Preferences, error)
}

// Tracker records dose outcomes and computes adherence summaries.
type Tracker struct {
	meds     MedicationSource
	records  RecordStore
	prefs    PreferenceSource
	schedCfg schedule.Config
	clk      clock.Clock
	logger   *zap.Logger
}

// NewTracker creates a tracker.
func NewTracker(meds MedicationSource, records RecordStore, prefs PreferenceSource, schedCfg schedule.Config, clk clock.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Tracker{
		meds:     meds,
		records:  records,
		prefs:    prefs,
		schedCfg: schedCfg,
		clk:      clk,
		logger:   logger,
	}
}

// RecordOutcome persists the outcome of a dose event. Outcomes are
// write-once: a second call for the same (medication, timestamp) pair fails
// with ErrAlreadyRecorded and leaves the stored record unchanged.
func (t *Tracker) RecordOutcome(ctx context.Context, medicationID string, scheduledAt time.Time, outcome Outcome, confirmedAt *time.Time, note string) (*DoseRecord, error) {
	rec, err := t.buildRecord(ctx, medicationID, scheduledAt, outcome, confirmedAt, note)
	if err != nil {
		return nil, err
	}

	if err := t.records.Put(ctx, rec); err != nil {
		return nil, err
	}

	t.logger.Info("dose outcome recorded",
		zap.String("medication_id", medicationID),
		zap.Time("scheduled_at", scheduledAt),
		zap.String("outcome", string(outcome)),
	)
	return rec, nil
}

// Amend supersedes a previously recorded outcome with a correction. The
// original revision is preserved; nothing is overwritten.
func (t *Tracker) Amend(ctx context.Context, medicationID string, scheduledAt time.Time, outcome Outcome, confirmedAt *time.Time, note string) (*DoseRecord, error) {
	rec, err := t.buildRecord(ctx, medicationID, scheduledAt, outcome, confirmedAt, note)
	if err != nil {
		return nil, err
	}

	if err := t.records.Supersede(ctx, rec); err != nil {
		return nil, err
	}

	t.logger.Info("dose outcome amended",
		zap.String("medication_id", medicationID),
		zap.Time("scheduled_at", scheduledAt),
		zap.String("outcome", string(outcome)),
		zap.Int("revision", rec.Revision),
	)
	return rec, nil
}

// Stored returns the current stored record for a dose event, or
// ErrNotRecorded when nothing has been recorded for the pair.
func (t *Tracker) Stored(ctx context.Context, medicationID string, scheduledAt time.Time) (*DoseRecord, error) {
	return t.records.Get(ctx, medicationID, scheduledAt)
}

func (t *Tracker) buildRecord(ctx context.Context, medicationID string, scheduledAt time.Time, outcome Outcome, confirmedAt *time.Time, note string) (*DoseRecord, error) {
	if !outcome.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}

	med, err := t.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, fmt.Errorf("load medication: %w", err)
	}

	prefs, err := t.prefs.Preferences(ctx, med.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	// As-needed doses have no generated schedule; any instant is a valid
	// self-reported dose. Scheduled medications must match the generator.
	if !med.AsNeeded() {
		ok, err := schedule.CouldSchedule(med, scheduledAt, prefs.Location, t.schedCfg)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s at %s", ErrUnknownDoseEvent,
				medicationID, scheduledAt.Format(time.RFC3339))
		}
	}

	// A missed dose carries no confirmation at the scheduled instant; only
	// an optional later follow-up timestamp is allowed.
	if outcome == OutcomeMissed && confirmedAt != nil && confirmedAt.Equal(scheduledAt) {
		return nil, ErrInconsistentConfirmation
	}
	if outcome == OutcomeTaken && confirmedAt == nil {
		now := t.clk.Now()
		confirmedAt = &now
	}

	return &DoseRecord{
		MedicationID: medicationID,
		PatientID:    med.PatientID,
		ScheduledAt:  scheduledAt,
		Outcome:      outcome,
		ConfirmedAt:  confirmedAt,
		Note:         note,
		RecordedAt:   t.clk.Now(),
	}, nil
}

// Summarize aggregates confirmed and implied outcomes for a medication over
// [windowStart, windowEnd). Unconfirmed events past the missed-dose
// follow-up delay count as missed without requiring a stored record.
func (t *Tracker) Summarize(ctx context.Context, medicationID string, windowStart, windowEnd time.Time) (*Summary, error) {
	med, err := t.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, fmt.Errorf("load medication: %w", err)
	}

	prefs, err := t.prefs.Preferences(ctx, med.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	summary := &Summary{
		MedicationID: medicationID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
	}

	// As-needed medications generate no dose events and are excluded from
	// adherence statistics.
	if med.AsNeeded() {
		return summary, nil
	}

	seq, err := schedule.Events(med, windowStart, windowEnd, prefs.Location, t.schedCfg)
	if err != nil {
		return nil, err
	}

	records, err := t.records.Query(ctx, medicationID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("query dose records: %w", err)
	}

	now := t.clk.Now()
	for {
		ev, ok := seq.Next()
		if !ok {
			break
		}
		if ev.ScheduledAt.After(now) {
			continue
		}
		summary.TotalDue++

		if rec, ok := records[ev.ScheduledAt.Unix()]; ok {
			switch rec.Outcome {
			case OutcomeTaken:
				summary.Taken++
			case OutcomeMissed:
				summary.Missed++
			case OutcomeSkipped:
				summary.Skipped++
			}
			continue
		}

		// Lazy missed inference at the follow-up boundary.
		if !now.Before(ev.ScheduledAt.Add(prefs.FollowupDelay)) {
			summary.Missed++
		} else {
			summary.Pending++
		}
	}

	if denom := summary.Taken + summary.Missed; denom > 0 {
		summary.AdherenceRate = float64(summary.Taken) / float64(denom)
	}
	return summary, nil
}
