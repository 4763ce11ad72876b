// Package adherence tracks dose outcomes and computes adherence statistics.
// Dose records are the source of truth; summaries are always recomputable.
package adherence

import (
	"errors"
	"time"
)

// Outcome is the terminal state of a dose event.
type Outcome string

const (
	OutcomeTaken   Outcome = "taken"
	OutcomeMissed  Outcome = "missed"
	OutcomeSkipped Outcome = "skipped"
)

// Known reports whether the outcome is one the tracker accepts.
func (o Outcome) Known() bool {
	return o == OutcomeTaken || o == OutcomeMissed || o == OutcomeSkipped
}

// DoseRecord is the persisted outcome of a dose event. Records are
// write-once; corrections insert a superseding revision rather than
// overwriting.
type DoseRecord struct {
	MedicationID string     `json:"medication_id"`
	PatientID    string     `json:"patient_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Revision     int        `json:"revision"`
	Outcome      Outcome    `json:"outcome"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	Note         string     `json:"note,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
}

var (
	// ErrUnknownDoseEvent indicates the (medication, timestamp) pair does not
	// correspond to a timestamp the generator could have produced.
	ErrUnknownDoseEvent = errors.New("adherence: unknown dose event")
	// ErrAlreadyRecorded indicates a terminal record already exists for the
	// (medication, timestamp) pair.
	ErrAlreadyRecorded = errors.New("adherence: outcome already recorded")
	// ErrNotRecorded indicates an amendment for a pair with no record.
	ErrNotRecorded = errors.New("adherence: no recorded outcome to amend")
	// ErrUnknownOutcome indicates an outcome outside taken/missed/skipped.
	ErrUnknownOutcome = errors.New("adherence: unknown outcome")
	// ErrInconsistentConfirmation indicates a confirmation timestamp that
	// contradicts the outcome.
	ErrInconsistentConfirmation = errors.New("adherence: confirmation inconsistent with outcome")
)

// Summary is the derived, recomputable adherence aggregate for one
// medication over a window.
type Summary struct {
	MedicationID string    `json:"medication_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	TotalDue     int       `json:"total_due"`
	Taken        int       `json:"taken"`
	Missed       int       `json:"missed"`
	Skipped      int       `json:"skipped"`
	Pending      int       `json:"pending"`
	// AdherenceRate is taken / (taken + missed). Skipped and as-needed doses
	// are excluded from the denominator.
	AdherenceRate float64 `json:"adherence_rate"`
}
