package schedule

import (
	"time"

	"github.com/caretrack/go-mar/internal/domain/medication"
)

// DoseEvent is a computed point in time at which a medication is scheduled
// to be taken. Events are ephemeral projections, uniquely identified by
// (medication id, scheduled timestamp), and never persisted verbatim.
type DoseEvent struct {
	MedicationID string    `json:"medication_id"`
	PatientID    string    `json:"patient_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// statusInterval is a half-open [start, end) span during which the
// medication was in active status. A zero end means still open.
type statusInterval struct {
	start time.Time
	end   time.Time
}

func (iv statusInterval) contains(t time.Time) bool {
	if t.Before(iv.start) {
		return false
	}
	return iv.end.IsZero() || t.Before(iv.end)
}

// activeIntervals derives the active spans from the aggregate's status
// history. An empty history (detached snapshots in tests) is treated as
// active for the whole window.
func activeIntervals(med *medication.Medication) []statusInterval {
	if len(med.StatusHistory) == 0 {
		return []statusInterval{{}}
	}

	var intervals []statusInterval
	var open *statusInterval
	for _, change := range med.StatusHistory {
		if change.Status == medication.StatusActive {
			if open == nil {
				intervals = append(intervals, statusInterval{start: change.At})
				open = &intervals[len(intervals)-1]
			}
			continue
		}
		if open != nil {
			open.end = change.At
			open = nil
		}
	}
	return intervals
}

// Sequence is a lazy, finite, restartable stream of dose events in
// chronological order. Calling Events again with the same arguments yields
// an identical stream; iteration has no side effects.
type Sequence struct {
	med       *medication.Medication
	slots     []medication.TimeOfDay
	loc       *time.Location
	start     time.Time
	end       time.Time
	intervals []statusInterval

	day time.Time
	idx int
}

// Events expands the intersection of the medication's active window and the
// caller's requested half-open range [rangeStart, rangeEnd) into dose
// events, in the patient's canonical zone. As-needed medications yield an
// empty sequence.
func Events(med *medication.Medication, rangeStart, rangeEnd time.Time, loc *time.Location, cfg Config) (*Sequence, error) {
	sched, err := Resolve(med.Frequency, med.Times, cfg)
	if err != nil {
		return nil, err
	}

	fixed, ok := sched.(Fixed)
	if !ok {
		return &Sequence{}, nil
	}

	start := rangeStart.In(loc)
	if windowStart := startOfDay(med.StartDate.In(loc)); start.Before(windowStart) {
		start = windowStart
	}

	end := rangeEnd.In(loc)
	if med.EndDate != nil {
		// The end date is inclusive: the window closes at midnight after it.
		windowEnd := startOfDay(med.EndDate.In(loc)).AddDate(0, 0, 1)
		if windowEnd.Before(end) {
			end = windowEnd
		}
	}

	seq := &Sequence{
		med:       med,
		slots:     fixed.Slots,
		loc:       loc,
		start:     start,
		end:       end,
		intervals: activeIntervals(med),
		day:       startOfDay(start),
	}
	return seq, nil
}

// Next returns the next dose event, or ok=false when the sequence is
// exhausted.
func (s *Sequence) Next() (DoseEvent, bool) {
	if s.med == nil || len(s.slots) == 0 {
		return DoseEvent{}, false
	}

	for !s.day.After(s.end) {
		for s.idx < len(s.slots) {
			slot := s.slots[s.idx]
			s.idx++

			at := slot.On(s.day, s.loc)
			if at.Before(s.start) {
				continue
			}
			if !at.Before(s.end) {
				return DoseEvent{}, false
			}
			if !s.activeAt(at) {
				continue
			}
			return DoseEvent{
				MedicationID: s.med.ID,
				PatientID:    s.med.PatientID,
				ScheduledAt:  at,
			}, true
		}
		s.idx = 0
		s.day = s.day.AddDate(0, 0, 1)
	}
	return DoseEvent{}, false
}

// Collect drains the remaining sequence into a slice.
func (s *Sequence) Collect() []DoseEvent {
	var events []DoseEvent
	for {
		ev, ok := s.Next()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func (s *Sequence) activeAt(t time.Time) bool {
	for _, iv := range s.intervals {
		if iv.contains(t) {
			return true
		}
	}
	return false
}

// CouldSchedule reports whether the generator could produce a dose event for
// the medication at exactly the given instant.
func CouldSchedule(med *medication.Medication, at time.Time, loc *time.Location, cfg Config) (bool, error) {
	seq, err := Events(med, at, at.Add(time.Minute), loc, cfg)
	if err != nil {
		return false, err
	}
	ev, ok := seq.Next()
	return ok && ev.ScheduledAt.Equal(at.In(loc)), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
