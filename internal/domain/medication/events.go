// Package medication implements the medication aggregate and domain events.
package medication

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventMedicationCreated      EventType = "MedicationCreated"
	EventMedicationPaused       EventType = "MedicationPaused"
	EventMedicationResumed      EventType = "MedicationResumed"
	EventMedicationDiscontinued EventType = "MedicationDiscontinued"
	EventMedicationCompleted    EventType = "MedicationCompleted"
	EventMedicationRefilled     EventType = "MedicationRefilled"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientID     string          `json:"patient_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Medication",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithPatient sets the owning patient on the event envelope.
func (e *Event) WithPatient(patientID string) *Event {
	e.PatientID = patientID
	return e
}

// MedicationCreatedData contains prescription entry details
type MedicationCreatedData struct {
	MedicationID     string        `json:"medication_id"`
	PatientID        string        `json:"patient_id"`
	Name             string        `json:"name"`
	GenericName      string        `json:"generic_name,omitempty"`
	Dosage           string        `json:"dosage"`
	Frequency        FrequencyKind `json:"frequency"`
	Times            []TimeOfDay   `json:"times,omitempty"`
	StartDate        time.Time     `json:"start_date"`
	EndDate          *time.Time    `json:"end_date,omitempty"`
	Instructions     string        `json:"instructions,omitempty"`
	PrescribedBy     string        `json:"prescribed_by,omitempty"`
	Quantity         int           `json:"quantity"`
	RefillsRemaining int           `json:"refills_remaining"`
	Condition        string        `json:"condition,omitempty"`
}

// MedicationPausedData contains pause details
type MedicationPausedData struct {
	MedicationID string    `json:"medication_id"`
	Reason       string    `json:"reason,omitempty"`
	PausedAt     time.Time `json:"paused_at"`
}

// MedicationResumedData contains resume details
type MedicationResumedData struct {
	MedicationID string    `json:"medication_id"`
	ResumedAt    time.Time `json:"resumed_at"`
}

// MedicationDiscontinuedData contains discontinuation details
type MedicationDiscontinuedData struct {
	MedicationID    string    `json:"medication_id"`
	Reason          string    `json:"reason,omitempty"`
	DiscontinuedAt  time.Time `json:"discontinued_at"`
	DiscontinuedBy  string    `json:"discontinued_by,omitempty"`
	ClinicianChange bool      `json:"clinician_change,omitempty"`
}

// MedicationCompletedData contains course-completion details
type MedicationCompletedData struct {
	MedicationID string    `json:"medication_id"`
	CompletedAt  time.Time `json:"completed_at"`
}

// MedicationRefilledData contains refill details
type MedicationRefilledData struct {
	MedicationID     string    `json:"medication_id"`
	QuantityAdded    int       `json:"quantity_added"`
	RefillsRemaining int       `json:"refills_remaining"`
	RefilledAt       time.Time `json:"refilled_at"`
}
