// Package integration exercises the full adherence pipeline against
// in-memory stores: medication lifecycle, schedule expansion, outcome
// recording, reminder evaluation and refill forecasting.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/go-mar/internal/adherence"
	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/refill"
	"github.com/caretrack/go-mar/internal/reminder"
	"github.com/caretrack/go-mar/internal/schedule"
	"github.com/caretrack/go-mar/pkg/clock"
)

type memMeds struct {
	byID map[string]*medication.Medication
}

func (m *memMeds) Get(ctx context.Context, id string) (*medication.Medication, error) {
	med, ok := m.byID[id]
	if !ok {
		return nil, medication.ErrNotFound
	}
	return med, nil
}

func (m *memMeds) ListActive(ctx context.Context, patientID string) ([]*medication.Medication, error) {
	var out []*medication.Medication
	for _, med := range m.byID {
		if med.PatientID == patientID && med.Active() {
			out = append(out, med)
		}
	}
	return out, nil
}

type memRecords struct {
	byKey map[string][]*adherence.DoseRecord
}

func newMemRecords() *memRecords {
	return &memRecords{byKey: make(map[string][]*adherence.DoseRecord)}
}

func (s *memRecords) key(medicationID string, at time.Time) string {
	return medicationID + "|" + at.UTC().Format(time.RFC3339)
}

func (s *memRecords) Get(ctx context.Context, medicationID string, at time.Time) (*adherence.DoseRecord, error) {
	revs := s.byKey[s.key(medicationID, at)]
	if len(revs) == 0 {
		return nil, adherence.ErrNotRecorded
	}
	return revs[len(revs)-1], nil
}

func (s *memRecords) Put(ctx context.Context, rec *adherence.DoseRecord) error {
	k := s.key(rec.MedicationID, rec.ScheduledAt)
	if len(s.byKey[k]) > 0 {
		return adherence.ErrAlreadyRecorded
	}
	s.byKey[k] = append(s.byKey[k], rec)
	return nil
}

func (s *memRecords) Supersede(ctx context.Context, rec *adherence.DoseRecord) error {
	k := s.key(rec.MedicationID, rec.ScheduledAt)
	revs := s.byKey[k]
	if len(revs) == 0 {
		return adherence.ErrNotRecorded
	}
	rec.Revision = revs[len(revs)-1].Revision + 1
	s.byKey[k] = append(revs, rec)
	return nil
}

func (s *memRecords) Query(ctx context.Context, medicationID string, start, end time.Time) (map[int64]*adherence.DoseRecord, error) {
	out := make(map[int64]*adherence.DoseRecord)
	for _, revs := range s.byKey {
		rec := revs[len(revs)-1]
		if rec.MedicationID != medicationID {
			continue
		}
		if rec.ScheduledAt.Before(start) || !rec.ScheduledAt.Before(end) {
			continue
		}
		out[rec.ScheduledAt.Unix()] = rec
	}
	return out, nil
}

type memSettings struct {
	byPatient map[string]*reminder.Settings
}

func (s *memSettings) Get(ctx context.Context, patientID string) (*reminder.Settings, error) {
	if settings, ok := s.byPatient[patientID]; ok {
		return settings, nil
	}
	return reminder.DefaultSettings(patientID), nil
}

func (s *memSettings) Put(ctx context.Context, settings *reminder.Settings) error {
	s.byPatient[settings.PatientID] = settings
	return nil
}

type settingsPrefs struct {
	store reminder.SettingsStore
}

func (p settingsPrefs) Preferences(ctx context.Context, patientID string) (adherence.Preferences, error) {
	settings, err := p.store.Get(ctx, patientID)
	if err != nil {
		return adherence.Preferences{}, err
	}
	return adherence.Preferences{
		Location:      settings.Location(),
		FollowupDelay: settings.MissedFollowupDelay,
	}, nil
}

func TestAdherencePipeline(t *testing.T) {
	ctx := context.Background()
	patientID := "patient-" + uuid.NewString()

	// Day one of the course. The clock is advanced through the scenario.
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	agg := medication.NewAggregate(uuid.NewString())
	err := agg.Create(&medication.MedicationCreatedData{
		MedicationID:     agg.ID(),
		PatientID:        patientID,
		Name:             "Lisinopril",
		GenericName:      "lisinopril",
		Dosage:           "10mg",
		Frequency:        medication.TwiceDaily,
		StartDate:        start,
		Quantity:         20,
		RefillsRemaining: 1,
	})
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}

	// The medication is entered long after its start date. The active
	// interval must still open at the start date, otherwise the earlier
	// slots never generate.
	med := agg.Snapshot()
	if len(med.StatusHistory) == 0 || !med.StatusHistory[0].At.Equal(start) {
		t.Fatalf("status history = %+v, want active from %s", med.StatusHistory, start)
	}
	meds := &memMeds{byID: map[string]*medication.Medication{med.ID: med}}
	records := newMemRecords()
	settings := &memSettings{byPatient: make(map[string]*reminder.Settings)}
	schedCfg := schedule.DefaultConfig()

	// Morning of day three, between the 08:00 dose and its follow-up.
	now := time.Date(2024, 4, 3, 8, 30, 0, 0, time.UTC)
	tracker := adherence.NewTracker(meds, records, settingsPrefs{settings}, schedCfg, clock.At(now), nil)
	engine := reminder.NewEngine(meds, records, settings, reminder.DefaultConfig(), nil)
	forecaster := refill.NewForecaster(schedCfg, clock.At(now), nil)

	// Days one and two: everything taken except the day-two morning dose.
	taken := []time.Time{
		time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 20, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 2, 20, 0, 0, 0, time.UTC),
	}
	for _, at := range taken {
		at := at
		if _, err := tracker.RecordOutcome(ctx, med.ID, at, adherence.OutcomeTaken, &at, ""); err != nil {
			t.Fatalf("record taken %s: %v", at, err)
		}
	}

	t.Run("summary infers the missed dose", func(t *testing.T) {
		sum, err := tracker.Summarize(ctx, med.ID, start, now)
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if sum.TotalDue != 5 || sum.Taken != 3 || sum.Missed != 1 || sum.Pending != 1 {
			t.Fatalf("summary = %+v, want 5 due, 3 taken, 1 missed, 1 pending", sum)
		}
		if want := 0.75; sum.AdherenceRate != want {
			t.Errorf("rate = %f, want %f", sum.AdherenceRate, want)
		}
	})

	t.Run("advance reminder before the evening dose", func(t *testing.T) {
		eveningLead := time.Date(2024, 4, 3, 19, 50, 0, 0, time.UTC)
		due, err := engine.DueReminders(ctx, patientID, eveningLead)
		if err != nil {
			t.Fatalf("DueReminders: %v", err)
		}

		var advance, followups int
		for _, r := range due {
			switch r.Kind {
			case reminder.KindAdvance:
				advance++
				if !r.ScheduledAt.Equal(time.Date(2024, 4, 3, 20, 0, 0, 0, time.UTC)) {
					t.Errorf("advance reminder at %s, want 20:00", r.ScheduledAt)
				}
			case reminder.KindMissedFollowup:
				followups++
			}
		}
		if advance != 1 {
			t.Errorf("advance reminders = %d, want 1", advance)
		}
		// The unrecorded 08:00 dose is past its grace delay by evening.
		if followups != 1 {
			t.Errorf("missed follow-ups = %d, want 1 for the morning dose", followups)
		}
	})

	t.Run("recording the dose silences the follow-up", func(t *testing.T) {
		morning := time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)
		confirmed := morning.Add(45 * time.Minute)
		if _, err := tracker.RecordOutcome(ctx, med.ID, morning, adherence.OutcomeTaken, &confirmed, "late"); err != nil {
			t.Fatalf("record: %v", err)
		}

		due, err := engine.DueReminders(ctx, patientID, time.Date(2024, 4, 3, 19, 50, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("DueReminders: %v", err)
		}
		for _, r := range due {
			if r.Kind == reminder.KindMissedFollowup {
				t.Errorf("follow-up still due after recording: %+v", r)
			}
		}
	})

	t.Run("refill forecast counts down", func(t *testing.T) {
		f, err := forecaster.Evaluate(med, 7, time.UTC)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if f.DaysRemaining != 10 || f.RefillDue {
			t.Errorf("forecast = %+v, want 10 days and not yet due", f)
		}
		if f.Level != refill.LevelInfo {
			t.Errorf("level = %s, want info", f.Level)
		}
	})

	t.Run("pause stops dose generation", func(t *testing.T) {
		if err := agg.Pause("hospitalized"); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if agg.Status() != medication.StatusPaused {
			t.Fatalf("status = %s, want paused", agg.Status())
		}

		pausedAt := time.Date(2024, 4, 3, 12, 0, 0, 0, time.UTC)
		paused := *med
		paused.StatusHistory = []medication.StatusChange{
			{Status: medication.StatusActive, At: start},
			{Status: medication.StatusPaused, At: pausedAt},
		}

		day := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
		seq, err := schedule.Events(&paused, day, day.AddDate(0, 0, 3), time.UTC, schedCfg)
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		events := seq.Collect()
		if len(events) != 1 {
			t.Fatalf("events = %+v, want only the dose before the pause", events)
		}
		if !events[0].ScheduledAt.Equal(time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)) {
			t.Errorf("remaining event at %s, want 08:00 before the pause", events[0].ScheduledAt)
		}
	})
}
