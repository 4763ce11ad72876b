package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/adherence"
	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/observability/metrics"
	"github.com/caretrack/go-mar/internal/refill"
	"github.com/caretrack/go-mar/internal/schedule"
	"github.com/caretrack/go-mar/pkg/clock"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.New()

type fakeMedSource struct {
	med *medication.Medication
}

func (f *fakeMedSource) Get(_ context.Context, id string) (*medication.Medication, error) {
	if f.med != nil && f.med.ID == id {
		return f.med, nil
	}
	return nil, fmt.Errorf("%w: %s", medication.ErrNotFound, id)
}

type fakeRecordStore struct {
	records map[string]*adherence.DoseRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[string]*adherence.DoseRecord)}
}

func recKey(medicationID string, at time.Time) string {
	return medicationID + "|" + at.UTC().Format(time.RFC3339)
}

func (f *fakeRecordStore) Get(_ context.Context, medicationID string, scheduledAt time.Time) (*adherence.DoseRecord, error) {
	rec, ok := f.records[recKey(medicationID, scheduledAt)]
	if !ok {
		return nil, adherence.ErrNotRecorded
	}
	return rec, nil
}

func (f *fakeRecordStore) Put(_ context.Context, record *adherence.DoseRecord) error {
	k := recKey(record.MedicationID, record.ScheduledAt)
	if _, ok := f.records[k]; ok {
		return adherence.ErrAlreadyRecorded
	}
	f.records[k] = record
	return nil
}

func (f *fakeRecordStore) Supersede(_ context.Context, record *adherence.DoseRecord) error {
	k := recKey(record.MedicationID, record.ScheduledAt)
	current, ok := f.records[k]
	if !ok {
		return adherence.ErrNotRecorded
	}
	record.Revision = current.Revision + 1
	f.records[k] = record
	return nil
}

func (f *fakeRecordStore) Query(_ context.Context, _ string, _, _ time.Time) (map[int64]*adherence.DoseRecord, error) {
	return map[int64]*adherence.DoseRecord{}, nil
}

type fakePrefSource struct{}

func (fakePrefSource) Preferences(_ context.Context, _ string) (adherence.Preferences, error) {
	return adherence.Preferences{Location: time.UTC, FollowupDelay: time.Hour}, nil
}

func TestRecordDuplicateReturnsStoredRecord(t *testing.T) {
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	med := &medication.Medication{
		ID:        "med-1",
		PatientID: "patient-1",
		Name:      "Ondansetron",
		Frequency: medication.AsNeeded,
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:    medication.StatusActive,
	}

	tracker := adherence.NewTracker(&fakeMedSource{med: med}, newFakeRecordStore(),
		fakePrefSource{}, schedule.DefaultConfig(), clock.At(now), nil)
	h := NewAdherenceHandler(tracker, nil, nil, schedule.DefaultConfig(), testMetrics, zap.NewNop())
	router := h.Routes()

	body, err := json.Marshal(RecordRequest{
		MedicationID: "med-1",
		ScheduledAt:  time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
		Outcome:      "taken",
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/doses", bytes.NewReader(body))
		router.ServeHTTP(w, req)
		return w
	}

	first := post()
	if first.Code != http.StatusCreated {
		t.Fatalf("first POST status = %d, want 201: %s", first.Code, first.Body)
	}

	// The retried request succeeds and answers with the stored record.
	second := post()
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate POST status = %d, want 200: %s", second.Code, second.Body)
	}

	var stored adherence.DoseRecord
	if err := json.NewDecoder(second.Body).Decode(&stored); err != nil {
		t.Fatalf("decode duplicate response: %v", err)
	}
	if stored.MedicationID != "med-1" || stored.Outcome != adherence.OutcomeTaken {
		t.Errorf("stored record = %+v, want the original taken record", stored)
	}
	if stored.Revision != 0 {
		t.Errorf("revision = %d, want the untouched original", stored.Revision)
	}
	if stored.ConfirmedAt == nil || !stored.ConfirmedAt.Equal(now) {
		t.Errorf("confirmedAt = %v, want the first submission's %v", stored.ConfirmedAt, now)
	}
}

func TestRefillErrorStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"as-needed excluded", refill.ErrAsNeededExcluded, http.StatusUnprocessableEntity},
		{"indeterminate consumption", refill.ErrIndeterminateConsumption, http.StatusUnprocessableEntity},
		{"wrapped indeterminate", fmt.Errorf("evaluate: %w", refill.ErrIndeterminateConsumption), http.StatusUnprocessableEntity},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := refillErrorStatus(tc.err); got != tc.want {
				t.Errorf("refillErrorStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
