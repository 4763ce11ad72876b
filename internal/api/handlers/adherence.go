package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/adherence"
	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/observability/metrics"
	"github.com/caretrack/go-mar/internal/reminder"
	"github.com/caretrack/go-mar/internal/schedule"
)

// AdherenceHandler handles dose recording and adherence summaries
type AdherenceHandler struct {
	tracker  *adherence.Tracker
	repo     *medication.Repository
	settings reminder.SettingsStore
	schedCfg schedule.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAdherenceHandler creates a new handler
func NewAdherenceHandler(tracker *adherence.Tracker, repo *medication.Repository, settings reminder.SettingsStore, schedCfg schedule.Config, m *metrics.Metrics, logger *zap.Logger) *AdherenceHandler {
	return &AdherenceHandler{
		tracker:  tracker,
		repo:     repo,
		settings: settings,
		schedCfg: schedCfg,
		metrics:  m,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *AdherenceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/doses", h.Record)
	r.Put("/doses", h.Amend)
	r.Get("/medications/{id}/doses", h.ListDoses)
	r.Get("/medications/{id}/summary", h.Summary)
	return r
}

// RecordRequest is the request body for recording a dose outcome
type RecordRequest struct {
	MedicationID string     `json:"medication_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Outcome      string     `json:"outcome"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// Record handles POST /doses
func (h *AdherenceHandler) Record(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, false)
}

// Amend handles PUT /doses. The correction supersedes the stored outcome
// without erasing it.
func (h *AdherenceHandler) Amend(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, true)
}

func (h *AdherenceHandler) record(w http.ResponseWriter, r *http.Request, amend bool) {
	ctx := r.Context()
	tracer := otel.Tracer("adherence-handler")
	ctx, span := tracer.Start(ctx, "record_dose")
	defer span.End()

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MedicationID == "" {
		jsonError(w, "medication_id is required", http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.String("medication_id", req.MedicationID),
		attribute.String("outcome", req.Outcome),
		attribute.Bool("amend", amend),
	)

	var rec *adherence.DoseRecord
	var err error
	if amend {
		rec, err = h.tracker.Amend(ctx, req.MedicationID, req.ScheduledAt,
			adherence.Outcome(req.Outcome), req.ConfirmedAt, req.Note)
	} else {
		rec, err = h.tracker.RecordOutcome(ctx, req.MedicationID, req.ScheduledAt,
			adherence.Outcome(req.Outcome), req.ConfirmedAt, req.Note)
	}
	if err != nil {
		switch {
		case errors.Is(err, adherence.ErrAlreadyRecorded):
			// A duplicate submission is a retried request. Answer with
			// the stored record instead of a conflict.
			h.metrics.DosesDuplicate.Inc()
			stored, getErr := h.tracker.Stored(ctx, req.MedicationID, req.ScheduledAt)
			if getErr != nil {
				h.logger.Error("load stored dose failed", zap.Error(getErr))
				jsonError(w, "failed to record dose", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, stored)
		case errors.Is(err, adherence.ErrNotRecorded):
			jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, adherence.ErrUnknownDoseEvent),
			errors.Is(err, adherence.ErrUnknownOutcome),
			errors.Is(err, adherence.ErrInconsistentConfirmation):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, medication.ErrNotFound):
			jsonError(w, "medication not found", http.StatusNotFound)
		default:
			h.logger.Error("record dose failed", zap.Error(err))
			jsonError(w, "failed to record dose", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.DosesRecorded.WithLabelValues(string(rec.Outcome)).Inc()

	status := http.StatusCreated
	if amend {
		status = http.StatusOK
	}
	writeJSON(w, status, rec)
}

// ListDoses handles GET /medications/{id}/doses. Expands the schedule over
// [from, to) in the patient's canonical zone.
func (h *AdherenceHandler) ListDoses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	from, to, err := windowParams(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	med, err := h.repo.Get(ctx, id)
	if err != nil {
		jsonError(w, "medication not found", http.StatusNotFound)
		return
	}

	settings, err := h.settings.Get(ctx, med.PatientID)
	if err != nil {
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}

	seq, err := schedule.Events(med, from, to, settings.Location(), h.schedCfg)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	events := seq.Collect()
	if events == nil {
		events = []schedule.DoseEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Summary handles GET /medications/{id}/summary
func (h *AdherenceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	from, to, err := windowParams(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.tracker.Summarize(ctx, id, from, to)
	if err != nil {
		if errors.Is(err, medication.ErrNotFound) {
			jsonError(w, "medication not found", http.StatusNotFound)
			return
		}
		h.logger.Error("summarize failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to summarize", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// windowParams parses the required from/to RFC 3339 query parameters.
func windowParams(r *http.Request) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must precede to")
	}
	return from, to, nil
}
