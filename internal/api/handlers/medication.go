// Package handlers provides HTTP handlers for the adherence API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/api/middleware"
	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/observability/metrics"
	"github.com/caretrack/go-mar/internal/refill"
	"github.com/caretrack/go-mar/internal/reminder"
)

// MedicationHandler handles medication lifecycle endpoints
type MedicationHandler struct {
	repo       *medication.Repository
	forecaster *refill.Forecaster
	settings   reminder.SettingsStore
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewMedicationHandler creates a new handler
func NewMedicationHandler(repo *medication.Repository, forecaster *refill.Forecaster, settings reminder.SettingsStore, m *metrics.Metrics, logger *zap.Logger) *MedicationHandler {
	return &MedicationHandler{
		repo:       repo,
		forecaster: forecaster,
		settings:   settings,
		metrics:    m,
		logger:     logger,
	}
}

// Routes returns the handler routes
func (h *MedicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/pause", h.Pause)
	r.Post("/{id}/resume", h.Resume)
	r.Post("/{id}/discontinue", h.Discontinue)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/refill", h.Refill)
	r.Get("/{id}/refill-forecast", h.RefillForecast)
	r.Get("/{id}/dosage-check", h.DosageCheck)
	return r
}

// CreateRequest is the request body for creating a medication
type CreateRequest struct {
	PatientID        string     `json:"patient_id"`
	Name             string     `json:"name"`
	GenericName      string     `json:"generic_name,omitempty"`
	Dosage           string     `json:"dosage"`
	Frequency        string     `json:"frequency"`
	Times            []string   `json:"times,omitempty"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Instructions     string     `json:"instructions,omitempty"`
	PrescribedBy     string     `json:"prescribed_by,omitempty"`
	Quantity         int        `json:"quantity"`
	RefillsRemaining int        `json:"refills_remaining"`
	Condition        string     `json:"condition,omitempty"`
}

// CreateResponse is the response for creating a medication
type CreateResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Create handles POST /medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("medication-handler")
	ctx, span := tracer.Start(ctx, "create_medication")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.PatientID == "" {
		jsonError(w, "patient_id is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	times := make([]medication.TimeOfDay, 0, len(req.Times))
	for _, s := range req.Times {
		t, err := medication.ParseTimeOfDay(s)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		times = append(times, t)
	}

	medicationID := uuid.New().String()
	span.SetAttributes(attribute.String("medication_id", medicationID))

	agg := medication.NewAggregate(medicationID)
	err := agg.Create(&medication.MedicationCreatedData{
		MedicationID:     medicationID,
		PatientID:        req.PatientID,
		Name:             req.Name,
		GenericName:      req.GenericName,
		Dosage:           req.Dosage,
		Frequency:        medication.FrequencyKind(req.Frequency),
		Times:            times,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		Instructions:     req.Instructions,
		PrescribedBy:     req.PrescribedBy,
		Quantity:         req.Quantity,
		RefillsRemaining: req.RefillsRemaining,
		Condition:        req.Condition,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		jsonError(w, "failed to save medication", http.StatusInternalServerError)
		return
	}

	h.metrics.MedicationsCreated.Inc()
	h.logger.Info("medication created",
		zap.String("id", medicationID),
		zap.String("patient_id", req.PatientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	writeJSON(w, http.StatusCreated, CreateResponse{
		ID:        medicationID,
		Status:    string(agg.Status()),
		CreatedAt: time.Now().UTC(),
	})
}

// Get handles GET /medications/{id}
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	med, err := h.repo.Get(ctx, id)
	if err != nil {
		jsonError(w, "medication not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, med)
}

// GetEvents handles GET /medications/{id}/events
func (h *MedicationHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	events, err := h.repo.GetEvents(ctx, id)
	if err != nil {
		jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		jsonError(w, "medication not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// PauseRequest carries the pause reason
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Pause handles POST /medications/{id}/pause
func (h *MedicationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	json.NewDecoder(r.Body).Decode(&req)

	h.mutate(w, r, func(agg *medication.Aggregate) error {
		return agg.Pause(req.Reason)
	})
}

// Resume handles POST /medications/{id}/resume
func (h *MedicationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(agg *medication.Aggregate) error {
		return agg.Resume()
	})
}

// DiscontinueRequest carries discontinuation details
type DiscontinueRequest struct {
	Reason         string `json:"reason,omitempty"`
	DiscontinuedBy string `json:"discontinued_by,omitempty"`
}

// Discontinue handles POST /medications/{id}/discontinue
func (h *MedicationHandler) Discontinue(w http.ResponseWriter, r *http.Request) {
	var req DiscontinueRequest
	json.NewDecoder(r.Body).Decode(&req)

	h.mutate(w, r, func(agg *medication.Aggregate) error {
		return agg.Discontinue(req.Reason, req.DiscontinuedBy)
	})
}

// Complete handles POST /medications/{id}/complete
func (h *MedicationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(agg *medication.Aggregate) error {
		return agg.Complete()
	})
}

// RefillRequest carries the dispensed quantity
type RefillRequest struct {
	QuantityAdded int `json:"quantity_added"`
}

// Refill handles POST /medications/{id}/refill
func (h *MedicationHandler) Refill(w http.ResponseWriter, r *http.Request) {
	var req RefillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mutate(w, r, func(agg *medication.Aggregate) error {
		return agg.Refill(req.QuantityAdded)
	})
}

// mutate loads the aggregate, applies one lifecycle command and saves.
func (h *MedicationHandler) mutate(w http.ResponseWriter, r *http.Request, cmd func(*medication.Aggregate) error) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		jsonError(w, "medication not found", http.StatusNotFound)
		return
	}

	if err := cmd(agg); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save failed", zap.String("id", id), zap.Error(err))
		jsonError(w, "failed to save", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      agg.ID(),
		"status":  agg.Status(),
		"version": agg.Version(),
	})
}

// RefillForecast handles GET /medications/{id}/refill-forecast
func (h *MedicationHandler) RefillForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

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

	forecast, err := h.forecaster.Evaluate(med, settings.RefillLeadDays, settings.Location())
	if err != nil {
		jsonError(w, err.Error(), refillErrorStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, forecast)
}

// refillErrorStatus maps forecast errors to HTTP statuses. Exclusions and
// indeterminate consumption are data problems the caller can correct, not
// server faults.
func refillErrorStatus(err error) int {
	switch {
	case errors.Is(err, refill.ErrAsNeededExcluded),
		errors.Is(err, refill.ErrIndeterminateConsumption):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// DosageCheck handles GET /medications/{id}/dosage-check
func (h *MedicationHandler) DosageCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	med, err := h.repo.Get(ctx, id)
	if err != nil {
		jsonError(w, "medication not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, medication.ValidateDosage(med))
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
