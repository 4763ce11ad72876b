// Package medication implements the medication aggregate and domain events.
package medication

import (
	"errors"
	"fmt"
	"time"
)

// Status represents medication status
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusDiscontinued Status = "discontinued"
	StatusCompleted    Status = "completed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDiscontinued || s == StatusCompleted
}

// FrequencyKind identifies the prescribed dosing pattern
type FrequencyKind string

const (
	OnceDaily       FrequencyKind = "once_daily"
	TwiceDaily      FrequencyKind = "twice_daily"
	ThreeTimesDaily FrequencyKind = "three_times_daily"
	FourTimesDaily  FrequencyKind = "four_times_daily"
	Every6Hours     FrequencyKind = "every_6_hours"
	Every8Hours     FrequencyKind = "every_8_hours"
	Every12Hours    FrequencyKind = "every_12_hours"
	Bedtime         FrequencyKind = "bedtime"
	Morning         FrequencyKind = "morning"
	WithMeals       FrequencyKind = "with_meals"
	AsNeeded        FrequencyKind = "as_needed"
	Custom          FrequencyKind = "custom"
)

// Known reports whether the kind is one the engine can expand.
func (k FrequencyKind) Known() bool {
	switch k {
	case OnceDaily, TwiceDaily, ThreeTimesDaily, FourTimesDaily,
		Every6Hours, Every8Hours, Every12Hours,
		Bedtime, Morning, WithMeals, AsNeeded, Custom:
		return true
	}
	return false
}

// RequiresExplicitTimes reports whether the kind carries no implied slots
// and therefore needs a caller-supplied time-of-day list.
func (k FrequencyKind) RequiresExplicitTimes() bool {
	return k == Custom
}

// TimeOfDay is a wall-clock slot with minute precision.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// Valid reports whether the slot is within a 24-hour day.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Before orders slots within a day.
func (t TimeOfDay) Before(o TimeOfDay) bool {
	if t.Hour != o.Hour {
		return t.Hour < o.Hour
	}
	return t.Minute < o.Minute
}

// On anchors the slot to a calendar day in the given zone.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// StatusChange is one step in the medication's lifecycle history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Medication is a read-model snapshot of the aggregate, consumed by the
// schedule, reminder and refill packages.
type Medication struct {
	ID               string
	PatientID        string
	Name             string
	GenericName      string
	Dosage           string
	Frequency        FrequencyKind
	Times            []TimeOfDay
	StartDate        time.Time
	EndDate          *time.Time
	Instructions     string
	PrescribedBy     string
	Quantity         int
	RefillsRemaining int
	Status           Status
	Condition        string
	StatusHistory    []StatusChange
}

// AsNeeded reports whether the medication has no fixed schedule.
func (m *Medication) AsNeeded() bool { return m.Frequency == AsNeeded }

// Active reports whether doses are currently being generated.
func (m *Medication) Active() bool { return m.Status == StatusActive }

var (
	// ErrInvalidWindow indicates start after end.
	ErrInvalidWindow = errors.New("medication: active window start after end")
	// ErrNegativeQuantity indicates quantity below zero.
	ErrNegativeQuantity = errors.New("medication: quantity must be >= 0")
	// ErrNegativeRefills indicates refills below zero.
	ErrNegativeRefills = errors.New("medication: refills remaining must be >= 0")
	// ErrUnknownFrequency indicates a frequency kind the engine cannot expand.
	ErrUnknownFrequency = errors.New("medication: unknown frequency kind")
	// ErrMissingTimes indicates a kind that requires explicit times got none.
	ErrMissingTimes = errors.New("medication: frequency kind requires explicit times")
	// ErrTimeOutOfRange indicates an explicit slot outside a 24-hour day.
	ErrTimeOutOfRange = errors.New("medication: time of day out of range")
)

// Validate enforces the record invariants.
func (m *Medication) Validate() error {
	if !m.Frequency.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, m.Frequency)
	}
	if m.Frequency.RequiresExplicitTimes() && len(m.Times) == 0 {
		return fmt.Errorf("%w: %q", ErrMissingTimes, m.Frequency)
	}
	for _, t := range m.Times {
		if !t.Valid() {
			return fmt.Errorf("%w: %s", ErrTimeOutOfRange, t)
		}
	}
	if m.EndDate != nil && m.StartDate.After(*m.EndDate) {
		return ErrInvalidWindow
	}
	if m.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if m.RefillsRemaining < 0 {
		return ErrNegativeRefills
	}
	return nil
}
