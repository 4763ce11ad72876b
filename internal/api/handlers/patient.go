package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/interaction"
	"github.com/caretrack/go-mar/internal/reminder"
)

// PatientHandler handles per-patient endpoints: reminders, settings and
// regimen safety checks.
type PatientHandler struct {
	repo     *medication.Repository
	engine   *reminder.Engine
	settings reminder.SettingsStore
	logger   *zap.Logger
}

// NewPatientHandler creates a new handler
func NewPatientHandler(repo *medication.Repository, engine *reminder.Engine, settings reminder.SettingsStore, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{
		repo:     repo,
		engine:   engine,
		settings: settings,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/medications", h.Medications)
	r.Get("/{id}/reminders", h.Reminders)
	r.Get("/{id}/reminder-settings", h.GetSettings)
	r.Put("/{id}/reminder-settings", h.PutSettings)
	r.Get("/{id}/interactions", h.Interactions)
	r.Post("/{id}/symptom-check", h.SymptomCheck)
	return r
}

// Medications handles GET /patients/{id}/medications
func (h *PatientHandler) Medications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	meds, err := h.repo.ListActive(ctx, id)
	if err != nil {
		h.logger.Error("list medications failed", zap.String("patient_id", id), zap.Error(err))
		jsonError(w, "failed to list medications", http.StatusInternalServerError)
		return
	}

	if meds == nil {
		meds = []*medication.Medication{}
	}
	writeJSON(w, http.StatusOK, meds)
}

// Reminders handles GET /patients/{id}/reminders. The optional at
// parameter evaluates eligibility at an instant other than now.
func (h *PatientHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	at := time.Now().UTC()
	if s := r.URL.Query().Get("at"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonError(w, "at must be RFC 3339", http.StatusBadRequest)
			return
		}
		at = parsed
	}

	due, err := h.engine.DueReminders(ctx, id, at)
	if err != nil {
		h.logger.Error("due reminders failed", zap.String("patient_id", id), zap.Error(err))
		jsonError(w, "failed to compute reminders", http.StatusInternalServerError)
		return
	}

	if due == nil {
		due = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, due)
}

// GetSettings handles GET /patients/{id}/reminder-settings
func (h *PatientHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	settings, err := h.settings.Get(ctx, id)
	if err != nil {
		h.logger.Error("load settings failed", zap.String("patient_id", id), zap.Error(err))
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /patients/{id}/reminder-settings
func (h *PatientHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var settings reminder.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settings.PatientID = id

	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			jsonError(w, "unknown timezone", http.StatusBadRequest)
			return
		}
	}

	if err := h.settings.Put(ctx, &settings); err != nil {
		h.logger.Error("save settings failed", zap.String("patient_id", id), zap.Error(err))
		jsonError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// Interactions handles GET /patients/{id}/interactions. Checks every pair
// in the patient's active regimen against the interaction reference.
func (h *PatientHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	meds, err := h.repo.ListActive(ctx, id)
	if err != nil {
		jsonError(w, "failed to list medications", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, interaction.CheckRegimen(meds))
}

// SymptomCheckRequest carries the patient-reported symptoms
type SymptomCheckRequest struct {
	Symptoms []string `json:"symptoms"`
}

// SymptomCheck handles POST /patients/{id}/symptom-check
func (h *PatientHandler) SymptomCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SymptomCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Symptoms) == 0 {
		jsonError(w, "symptoms are required", http.StatusBadRequest)
		return
	}

	meds, err := h.repo.ListActive(ctx, id)
	if err != nil {
		jsonError(w, "failed to list medications", http.StatusInternalServerError)
		return
	}

	matches := interaction.MatchSymptoms(meds, req.Symptoms)
	if matches == nil {
		matches = []interaction.SymptomMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}
