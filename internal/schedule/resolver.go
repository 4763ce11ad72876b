// Package schedule expands a medication's frequency specification into
// concrete dose events. Resolution and generation are pure so they stay
// trivially testable; wall-clock state lives with the callers.
package schedule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/caretrack/go-mar/internal/domain/medication"
)

// ErrInvalidFrequency indicates a frequency specification the resolver
// cannot expand: an unknown kind, a kind that requires explicit times with
// none supplied, or an out-of-range time of day.
var ErrInvalidFrequency = errors.New("schedule: invalid frequency")

// Config holds the resolver anchors.
type Config struct {
	// DayStartHour anchors the first slot of fixed-count kinds.
	DayStartHour int
	// IntervalAnchorHour anchors the first dose of every-N-hours kinds.
	IntervalAnchorHour int
}

// DefaultConfig returns the conventional 08:00 anchors.
func DefaultConfig() Config {
	return Config{DayStartHour: 8, IntervalAnchorHour: 8}
}

// Schedule is the resolved dosing pattern. Exactly two variants exist:
// Fixed carries the per-day slot set; AsNeeded carries nothing and is
// excluded from reminder and refill processing.
type Schedule interface {
	isSchedule()
}

// Fixed is a schedule with concrete per-day slots.
type Fixed struct {
	Slots []medication.TimeOfDay
}

func (Fixed) isSchedule() {}

// DosesPerDay returns the consumption rate implied by the slot set.
func (f Fixed) DosesPerDay() int { return len(f.Slots) }

// AsNeeded is a schedule with no fixed slots (PRN medications).
type AsNeeded struct{}

func (AsNeeded) isSchedule() {}

// offsets from DayStartHour, in hours, for the evenly spaced kinds.
var fixedOffsets = map[medication.FrequencyKind][]int{
	medication.OnceDaily:       {0},
	medication.TwiceDaily:      {0, 12},
	medication.ThreeTimesDaily: {0, 6, 12},
	medication.FourTimesDaily:  {0, 4, 8, 12},
	medication.Morning:         {0},
}

// absoluteSlots are kinds whose times are tied to the day itself rather
// than the configured anchor.
var absoluteSlots = map[medication.FrequencyKind][]medication.TimeOfDay{
	medication.Bedtime:   {{Hour: 22}},
	medication.WithMeals: {{Hour: 8}, {Hour: 13}, {Hour: 19}},
}

var intervalHours = map[medication.FrequencyKind]int{
	medication.Every6Hours:  6,
	medication.Every8Hours:  8,
	medication.Every12Hours: 12,
}

// Resolve maps a frequency kind and an optional explicit time list to the
// ordered per-day schedule. Explicit times always take precedence over
// derived defaults.
func Resolve(kind medication.FrequencyKind, explicit []medication.TimeOfDay, cfg Config) (Schedule, error) {
	if !kind.Known() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFrequency, kind)
	}

	if kind == medication.AsNeeded {
		return AsNeeded{}, nil
	}

	if len(explicit) > 0 {
		slots := make([]medication.TimeOfDay, len(explicit))
		copy(slots, explicit)
		for _, t := range slots {
			if !t.Valid() {
				return nil, fmt.Errorf("%w: time %s out of range", ErrInvalidFrequency, t)
			}
		}
		sortSlots(slots)
		return Fixed{Slots: slots}, nil
	}

	if kind.RequiresExplicitTimes() {
		return nil, fmt.Errorf("%w: kind %q requires explicit times", ErrInvalidFrequency, kind)
	}

	if offsets, ok := fixedOffsets[kind]; ok {
		slots := make([]medication.TimeOfDay, 0, len(offsets))
		for _, off := range offsets {
			slots = append(slots, medication.TimeOfDay{Hour: (cfg.DayStartHour + off) % 24})
		}
		sortSlots(slots)
		return Fixed{Slots: slots}, nil
	}

	if abs, ok := absoluteSlots[kind]; ok {
		slots := make([]medication.TimeOfDay, len(abs))
		copy(slots, abs)
		return Fixed{Slots: slots}, nil
	}

	if step, ok := intervalHours[kind]; ok {
		slots := make([]medication.TimeOfDay, 0, 24/step)
		for h := cfg.IntervalAnchorHour; len(slots) < 24/step; h = (h + step) % 24 {
			slots = append(slots, medication.TimeOfDay{Hour: h % 24})
		}
		sortSlots(slots)
		return Fixed{Slots: slots}, nil
	}

	return nil, fmt.Errorf("%w: kind %q has no expansion", ErrInvalidFrequency, kind)
}

// DosesPerDay returns the resolved consumption rate for a medication,
// zero for as-needed.
func DosesPerDay(med *medication.Medication, cfg Config) (int, error) {
	sched, err := Resolve(med.Frequency, med.Times, cfg)
	if err != nil {
		return 0, err
	}
	switch s := sched.(type) {
	case Fixed:
		return s.DosesPerDay(), nil
	case AsNeeded:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: unhandled schedule variant", ErrInvalidFrequency)
}

func sortSlots(slots []medication.TimeOfDay) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
}
