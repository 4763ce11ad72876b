package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/adherence"
	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/schedule"
)

// Kind distinguishes reminder types.
type Kind string

const (
	KindAdvance        Kind = "advance"
	KindMissedFollowup Kind = "missed-followup"
)

// Reminder is one currently-eligible notification. The engine always
// returns the full eligible set; the caller deduplicates against its
// delivery log.
type Reminder struct {
	PatientID    string    `json:"patient_id"`
	MedicationID string    `json:"medication_id"`
	Medication   string    `json:"medication"`
	Dosage       string    `json:"dosage"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Kind         Kind      `json:"kind"`
}

// MedicationLister supplies the active medications of a patient.
type MedicationLister interface {
	ListActive(ctx context.Context, patientID string) ([]*medication.Medication, error)
}

// Config bounds the engine's evaluation window.
type Config struct {
	// MissedLookback is how far back past dose events are scanned for
	// follow-up eligibility. Older unconfirmed events are still counted as
	// missed by the adherence tracker; they just stop producing follow-up
	// notifications.
	MissedLookback time.Duration
	Schedule       schedule.Config
}

// DefaultConfig returns a one-day follow-up scan window.
func DefaultConfig() Config {
	return Config{
		MissedLookback: 24 * time.Hour,
		Schedule:       schedule.DefaultConfig(),
	}
}

// Engine computes the currently-eligible reminder set. It keeps no
// "already notified" bookkeeping.
type Engine struct {
	meds     MedicationLister
	records  adherence.RecordStore
	settings SettingsStore
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates a reminder engine.
func NewEngine(meds MedicationLister, records adherence.RecordStore, settings SettingsStore, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		meds:     meds,
		records:  records,
		settings: settings,
		cfg:      cfg,
		logger:   logger,
	}
}

// DueReminders returns every reminder eligible at the given instant for one
// patient: advance reminders for doses inside [scheduled-advanceLead,
// scheduled), and missed follow-ups for unconfirmed doses past
// scheduled+missedFollowupDelay. As-needed medications never appear.
func (e *Engine) DueReminders(ctx context.Context, patientID string, now time.Time) ([]Reminder, error) {
	settings, err := e.settings.Get(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return nil, nil
	}

	meds, err := e.meds.ListActive(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}

	loc := settings.Location()
	scanStart := now.Add(-e.cfg.MissedLookback)
	scanEnd := now.Add(settings.AdvanceLead).Add(time.Minute)

	var due []Reminder
	for _, med := range meds {
		if med.AsNeeded() {
			continue
		}

		seq, err := schedule.Events(med, scanStart, scanEnd, loc, e.cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", med.ID, err)
		}

		records, err := e.records.Query(ctx, med.ID, scanStart, scanEnd)
		if err != nil {
			return nil, fmt.Errorf("query records for %s: %w", med.ID, err)
		}

		for {
			ev, ok := seq.Next()
			if !ok {
				break
			}

			switch {
			case !now.Before(ev.ScheduledAt):
				// Past-due: follow-up once the grace delay has elapsed and no
				// outcome was recorded.
				if now.Before(ev.ScheduledAt.Add(settings.MissedFollowupDelay)) {
					continue
				}
				if _, recorded := records[ev.ScheduledAt.Unix()]; recorded {
					continue
				}
				due = append(due, e.reminder(med, ev.ScheduledAt, KindMissedFollowup))

			case now.Before(ev.ScheduledAt) && !now.Before(ev.ScheduledAt.Add(-settings.AdvanceLead)):
				due = append(due, e.reminder(med, ev.ScheduledAt, KindAdvance))
			}
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].MedicationID < due[j].MedicationID
	})
	return due, nil
}

func (e *Engine) reminder(med *medication.Medication, at time.Time, kind Kind) Reminder {
	return Reminder{
		PatientID:    med.PatientID,
		MedicationID: med.ID,
		Medication:   med.Name,
		Dosage:       med.Dosage,
		ScheduledAt:  at,
		Kind:         kind,
	}
}
