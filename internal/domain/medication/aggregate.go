package medication

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrAlreadyCreated indicates a second Create on the same aggregate.
	ErrAlreadyCreated = errors.New("medication already created")
	// ErrNotActive indicates a transition that needs an active medication.
	ErrNotActive = errors.New("medication is not active")
	// ErrNotPaused indicates a resume on a medication that is not paused.
	ErrNotPaused = errors.New("medication is not paused")
	// ErrTerminalStatus indicates a transition out of a terminal status.
	ErrTerminalStatus = errors.New("medication is discontinued or completed")
	// ErrNoRefills indicates a refill with no refills remaining.
	ErrNoRefills = errors.New("no refills remaining")
)

// Aggregate is the event-sourced medication aggregate root. Status history is
// retained so schedule expansion can honor pause and resume instants.
type Aggregate struct {
	id               string
	version          int
	patientID        string
	name             string
	genericName      string
	dosage           string
	frequency        FrequencyKind
	times            []TimeOfDay
	startDate        time.Time
	endDate          *time.Time
	instructions     string
	prescribedBy     string
	quantity         int
	refillsRemaining int
	status           Status
	condition        string
	statusHistory    []StatusChange
	changes          []*Event
}

// NewAggregate creates an empty aggregate ready to replay or create.
func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:      id,
		changes: make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// PatientID returns the owning patient
func (a *Aggregate) PatientID() string { return a.patientID }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Aggregate) ClearChanges() { a.changes = make([]*Event, 0) }

// Create enters a new prescription.
func (a *Aggregate) Create(data *MedicationCreatedData) error {
	if a.status != "" {
		return ErrAlreadyCreated
	}

	snapshot := &Medication{
		Frequency:        data.Frequency,
		Times:            data.Times,
		StartDate:        data.StartDate,
		EndDate:          data.EndDate,
		Quantity:         data.Quantity,
		RefillsRemaining: data.RefillsRemaining,
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}

	event, err := NewEvent(a.id, EventMedicationCreated, data)
	if err != nil {
		return err
	}
	event.WithPatient(data.PatientID)

	a.raise(event)
	return nil
}

// Pause suspends dose generation from the pause instant onward.
func (a *Aggregate) Pause(reason string) error {
	if a.status.Terminal() {
		return ErrTerminalStatus
	}
	if a.status != StatusActive {
		return ErrNotActive
	}

	event, err := NewEvent(a.id, EventMedicationPaused, &MedicationPausedData{
		MedicationID: a.id,
		Reason:       reason,
		PausedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	event.WithPatient(a.patientID)

	a.raise(event)
	return nil
}

// Resume restarts dose generation from the resume instant.
func (a *Aggregate) Resume() error {
	if a.status.Terminal() {
		return ErrTerminalStatus
	}
	if a.status != StatusPaused {
		return ErrNotPaused
	}

	event, err := NewEvent(a.id, EventMedicationResumed, &MedicationResumedData{
		MedicationID: a.id,
		ResumedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	event.WithPatient(a.patientID)

	a.raise(event)
	return nil
}

// Discontinue ends the medication permanently, preserving history.
func (a *Aggregate) Discontinue(reason, by string) error {
	if a.status.Terminal() {
		return ErrTerminalStatus
	}

	event, err := NewEvent(a.id, EventMedicationDiscontinued, &MedicationDiscontinuedData{
		MedicationID:   a.id,
		Reason:         reason,
		DiscontinuedBy: by,
		DiscontinuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	event.WithPatient(a.patientID)

	a.raise(event)
	return nil
}

// Complete marks the course finished.
func (a *Aggregate) Complete() error {
	if a.status.Terminal() {
		return ErrTerminalStatus
	}

	event, err := NewEvent(a.id, EventMedicationCompleted, &MedicationCompletedData{
		MedicationID: a.id,
		CompletedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	event.WithPatient(a.patientID)

	a.raise(event)
	return nil
}

// Refill resets the quantity on hand and consumes one refill.
func (a *Aggregate) Refill(quantityAdded int) error {
	if a.status.Terminal() {
		return ErrTerminalStatus
	}
	if a.refillsRemaining <= 0 {
		return ErrNoRefills
	}
	if quantityAdded < 0 {
		return ErrNegativeQuantity
	}

	event, err := NewEvent(a.id, EventMedicationRefilled, &MedicationRefilledData{
		MedicationID:     a.id,
		QuantityAdded:    quantityAdded,
		RefillsRemaining: a.refillsRemaining - 1,
		RefilledAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	event.WithPatient(a.patientID)

	a.raise(event)
	return nil
}

// QuantityOnHand returns the remaining dose count.
func (a *Aggregate) QuantityOnHand() int { return a.quantity }

func (a *Aggregate) raise(event *Event) {
	a.apply(event)
	a.changes = append(a.changes, event)
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++

	switch event.EventType {
	case EventMedicationCreated:
		a.applyCreated(event)
	case EventMedicationPaused:
		a.transition(StatusPaused, event.Timestamp)
	case EventMedicationResumed:
		a.transition(StatusActive, event.Timestamp)
	case EventMedicationDiscontinued:
		a.transition(StatusDiscontinued, event.Timestamp)
	case EventMedicationCompleted:
		a.transition(StatusCompleted, event.Timestamp)
	case EventMedicationRefilled:
		a.applyRefilled(event)
	}
}

func (a *Aggregate) applyCreated(event *Event) {
	var data MedicationCreatedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.patientID = data.PatientID
	a.name = data.Name
	a.genericName = data.GenericName
	a.dosage = data.Dosage
	a.frequency = data.Frequency
	a.times = data.Times
	a.startDate = data.StartDate
	a.endDate = data.EndDate
	a.instructions = data.Instructions
	a.prescribedBy = data.PrescribedBy
	a.quantity = data.Quantity
	a.refillsRemaining = data.RefillsRemaining
	a.condition = data.Condition

	// Prescriptions are routinely entered after their start date. The
	// active interval opens at the start date so slots scheduled before
	// the entry instant still generate.
	openedAt := data.StartDate
	if openedAt.IsZero() || event.Timestamp.Before(openedAt) {
		openedAt = event.Timestamp
	}
	a.transition(StatusActive, openedAt)
}

func (a *Aggregate) applyRefilled(event *Event) {
	var data MedicationRefilledData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.quantity += data.QuantityAdded
	a.refillsRemaining = data.RefillsRemaining
}

func (a *Aggregate) transition(status Status, at time.Time) {
	a.status = status
	a.statusHistory = append(a.statusHistory, StatusChange{Status: status, At: at})
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
	}
}

// Snapshot materializes the read model consumed by the scheduling packages.
func (a *Aggregate) Snapshot() *Medication {
	history := make([]StatusChange, len(a.statusHistory))
	copy(history, a.statusHistory)

	return &Medication{
		ID:               a.id,
		PatientID:        a.patientID,
		Name:             a.name,
		GenericName:      a.genericName,
		Dosage:           a.dosage,
		Frequency:        a.frequency,
		Times:            a.times,
		StartDate:        a.startDate,
		EndDate:          a.endDate,
		Instructions:     a.instructions,
		PrescribedBy:     a.prescribedBy,
		Quantity:         a.quantity,
		RefillsRemaining: a.refillsRemaining,
		Status:           a.status,
		Condition:        a.condition,
		StatusHistory:    history,
	}
}
