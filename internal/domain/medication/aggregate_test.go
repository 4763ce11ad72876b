package medication

import (
	"errors"
	"testing"
	"time"
)

func createdData(id string) *MedicationCreatedData {
	return &MedicationCreatedData{
		MedicationID:     id,
		PatientID:        "patient-1",
		Name:             "Lisinopril",
		GenericName:      "lisinopril",
		Dosage:           "10mg",
		Frequency:        TwiceDaily,
		StartDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Quantity:         60,
		RefillsRemaining: 3,
	}
}

func createdAggregate(t *testing.T, id string) *Aggregate {
	t.Helper()
	agg := NewAggregate(id)
	if err := agg.Create(createdData(id)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return agg
}

func TestCreate(t *testing.T) {
	t.Parallel()

	agg := createdAggregate(t, "med-1")

	if agg.Status() != StatusActive {
		t.Errorf("status = %s, want active", agg.Status())
	}
	if agg.Version() != 1 {
		t.Errorf("version = %d, want 1", agg.Version())
	}
	if agg.PatientID() != "patient-1" {
		t.Errorf("patientID = %s", agg.PatientID())
	}
	if len(agg.Changes()) != 1 {
		t.Fatalf("changes = %d, want 1", len(agg.Changes()))
	}
	if agg.Changes()[0].EventType != EventMedicationCreated {
		t.Errorf("event type = %s", agg.Changes()[0].EventType)
	}

	if err := agg.Create(createdData("med-1")); !errors.Is(err, ErrAlreadyCreated) {
		t.Errorf("second create error = %v, want ErrAlreadyCreated", err)
	}
}

func TestCreateOpensActiveIntervalAtStartDate(t *testing.T) {
	t.Parallel()

	// A course started on 2024-01-01 and entered today must be active
	// from the start date, not from the entry instant.
	agg := createdAggregate(t, "med-1")

	history := agg.Snapshot().StatusHistory
	if len(history) != 1 {
		t.Fatalf("status history = %+v, want a single active entry", history)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if history[0].Status != StatusActive || !history[0].At.Equal(want) {
		t.Errorf("history[0] = %+v, want active at %s", history[0], want)
	}

	// A future-dated course opens at the entry instant instead; expansion
	// clips to the start date on its own.
	future := NewAggregate("med-2")
	data := createdData("med-2")
	data.StartDate = time.Now().UTC().AddDate(0, 0, 14)
	if err := future.Create(data); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	opened := future.Snapshot().StatusHistory[0].At
	if opened.After(time.Now().UTC()) {
		t.Errorf("future-dated course opened at %s, want the entry instant", opened)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*MedicationCreatedData)
		wantErr error
	}{
		{
			name:    "unknown frequency",
			mutate:  func(d *MedicationCreatedData) { d.Frequency = "hourly" },
			wantErr: ErrUnknownFrequency,
		},
		{
			name:    "custom without times",
			mutate:  func(d *MedicationCreatedData) { d.Frequency = Custom },
			wantErr: ErrMissingTimes,
		},
		{
			name: "end before start",
			mutate: func(d *MedicationCreatedData) {
				end := d.StartDate.AddDate(0, 0, -1)
				d.EndDate = &end
			},
			wantErr: ErrInvalidWindow,
		},
		{
			name:    "negative quantity",
			mutate:  func(d *MedicationCreatedData) { d.Quantity = -1 },
			wantErr: ErrNegativeQuantity,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			data := createdData("med-1")
			tc.mutate(data)
			err := NewAggregate("med-1").Create(data)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Create error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	t.Run("pause and resume", func(t *testing.T) {
		t.Parallel()
		agg := createdAggregate(t, "med-1")

		if err := agg.Resume(); !errors.Is(err, ErrNotPaused) {
			t.Errorf("resume while active error = %v, want ErrNotPaused", err)
		}
		if err := agg.Pause("hospitalized"); err != nil {
			t.Fatalf("Pause error: %v", err)
		}
		if agg.Status() != StatusPaused {
			t.Errorf("status = %s, want paused", agg.Status())
		}
		if err := agg.Pause("again"); !errors.Is(err, ErrNotActive) {
			t.Errorf("double pause error = %v, want ErrNotActive", err)
		}
		if err := agg.Resume(); err != nil {
			t.Fatalf("Resume error: %v", err)
		}
		if agg.Status() != StatusActive {
			t.Errorf("status = %s, want active", agg.Status())
		}
	})

	t.Run("discontinue is terminal", func(t *testing.T) {
		t.Parallel()
		agg := createdAggregate(t, "med-1")
		if err := agg.Discontinue("adverse reaction", "dr-smith"); err != nil {
			t.Fatalf("Discontinue error: %v", err)
		}
		if agg.Status() != StatusDiscontinued {
			t.Errorf("status = %s", agg.Status())
		}
		if err := agg.Pause("x"); !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("pause after discontinue error = %v, want ErrTerminalStatus", err)
		}
		if err := agg.Complete(); !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("complete after discontinue error = %v, want ErrTerminalStatus", err)
		}
		if err := agg.Refill(30); !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("refill after discontinue error = %v, want ErrTerminalStatus", err)
		}
	})

	t.Run("complete is terminal", func(t *testing.T) {
		t.Parallel()
		agg := createdAggregate(t, "med-1")
		if err := agg.Complete(); err != nil {
			t.Fatalf("Complete error: %v", err)
		}
		if agg.Status() != StatusCompleted {
			t.Errorf("status = %s", agg.Status())
		}
		if err := agg.Resume(); !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("resume after complete error = %v, want ErrTerminalStatus", err)
		}
	})
}

func TestRefill(t *testing.T) {
	t.Parallel()

	agg := createdAggregate(t, "med-1")

	if err := agg.Refill(60); err != nil {
		t.Fatalf("Refill error: %v", err)
	}
	if agg.QuantityOnHand() != 120 {
		t.Errorf("quantity = %d, want 120", agg.QuantityOnHand())
	}

	snap := agg.Snapshot()
	if snap.RefillsRemaining != 2 {
		t.Errorf("refills remaining = %d, want 2", snap.RefillsRemaining)
	}

	if err := agg.Refill(-1); !errors.Is(err, ErrNegativeQuantity) {
		t.Errorf("negative refill error = %v, want ErrNegativeQuantity", err)
	}

	agg.Refill(30)
	agg.Refill(30)
	if err := agg.Refill(30); !errors.Is(err, ErrNoRefills) {
		t.Errorf("exhausted refill error = %v, want ErrNoRefills", err)
	}
}

func TestLoadFromHistory(t *testing.T) {
	t.Parallel()

	agg := createdAggregate(t, "med-1")
	if err := agg.Pause("travel"); err != nil {
		t.Fatal(err)
	}
	if err := agg.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := agg.Refill(30); err != nil {
		t.Fatal(err)
	}

	replayed := NewAggregate("med-1")
	replayed.LoadFromHistory(agg.Changes())

	if replayed.Version() != agg.Version() {
		t.Errorf("replayed version = %d, want %d", replayed.Version(), agg.Version())
	}
	if replayed.Status() != agg.Status() {
		t.Errorf("replayed status = %s, want %s", replayed.Status(), agg.Status())
	}
	if replayed.QuantityOnHand() != agg.QuantityOnHand() {
		t.Errorf("replayed quantity = %d, want %d", replayed.QuantityOnHand(), agg.QuantityOnHand())
	}
	if len(replayed.Changes()) != 0 {
		t.Errorf("replayed changes = %d, want 0 after history load", len(replayed.Changes()))
	}

	want := agg.Snapshot()
	got := replayed.Snapshot()
	if got.PatientID != want.PatientID || got.Name != want.Name || got.Frequency != want.Frequency {
		t.Errorf("replayed snapshot = %+v, want %+v", got, want)
	}
	if len(got.StatusHistory) != len(want.StatusHistory) {
		t.Errorf("status history = %d entries, want %d", len(got.StatusHistory), len(want.StatusHistory))
	}
}

func TestSnapshotHistoryIsCopied(t *testing.T) {
	t.Parallel()

	agg := createdAggregate(t, "med-1")
	snap := agg.Snapshot()
	if len(snap.StatusHistory) != 1 || snap.StatusHistory[0].Status != StatusActive {
		t.Fatalf("history = %+v, want single active entry", snap.StatusHistory)
	}

	snap.StatusHistory[0].Status = StatusPaused
	if agg.Snapshot().StatusHistory[0].Status != StatusActive {
		t.Error("mutating a snapshot leaked into the aggregate")
	}
}
