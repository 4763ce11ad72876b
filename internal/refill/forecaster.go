// Package refill predicts supply exhaustion and raises refill alerts.
package refill

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/domain/medication"
	"github.com/caretrack/go-mar/internal/schedule"
	"github.com/caretrack/go-mar/pkg/clock"
)

var (
	// ErrIndeterminateConsumption indicates a scheduled medication whose
	// resolved consumption rate is zero. A data-quality error; surfaced, not
	// retried.
	ErrIndeterminateConsumption = errors.New("refill: indeterminate consumption rate")
	// ErrAsNeededExcluded indicates an as-needed medication, which is
	// quantity-tracked but never schedule-forecast.
	ErrAsNeededExcluded = errors.New("refill: as-needed medication excluded from forecasting")
)

// AlertLevel grades how urgent the remaining supply is.
type AlertLevel string

const (
	LevelNone     AlertLevel = "none"
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Forecast is the supply prediction for one medication.
type Forecast struct {
	MedicationID   string     `json:"medication_id"`
	DosesPerDay    int        `json:"doses_per_day"`
	DaysRemaining  int        `json:"days_remaining"`
	ExhaustionDate time.Time  `json:"exhaustion_date"`
	RefillDue      bool       `json:"refill_due"`
	// NoRefillsRemaining signals that the supply is running out with no
	// refills left; the caller escalates to a clinician-contact flow
	// instead of a routine reminder.
	NoRefillsRemaining bool       `json:"no_refills_remaining"`
	Level              AlertLevel `json:"level"`
}

// Compute predicts exhaustion from quantity on hand and consumption rate.
// today must be a date in the patient's canonical zone.
func Compute(med *medication.Medication, dosesPerDay int, leadDays int, today time.Time) (*Forecast, error) {
	if med.AsNeeded() {
		return nil, fmt.Errorf("%w: %s", ErrAsNeededExcluded, med.ID)
	}
	if dosesPerDay <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndeterminateConsumption, med.ID)
	}

	daysRemaining := med.Quantity / dosesPerDay
	f := &Forecast{
		MedicationID:   med.ID,
		DosesPerDay:    dosesPerDay,
		DaysRemaining:  daysRemaining,
		ExhaustionDate: today.AddDate(0, 0, daysRemaining),
		Level:          level(daysRemaining),
	}

	withinLead := daysRemaining <= leadDays
	f.RefillDue = withinLead && med.RefillsRemaining > 0
	f.NoRefillsRemaining = withinLead && med.RefillsRemaining == 0
	return f, nil
}

func level(daysRemaining int) AlertLevel {
	switch {
	case daysRemaining <= 3:
		return LevelCritical
	case daysRemaining <= 7:
		return LevelWarning
	case daysRemaining <= 14:
		return LevelInfo
	default:
		return LevelNone
	}
}

// Forecaster derives the consumption rate from the resolved schedule and
// anchors "today" to the injected clock.
type Forecaster struct {
	schedCfg schedule.Config
	clk      clock.Clock
	logger   *zap.Logger
}

// NewForecaster creates a forecaster.
func NewForecaster(schedCfg schedule.Config, clk clock.Clock, logger *zap.Logger) *Forecaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Forecaster{schedCfg: schedCfg, clk: clk, logger: logger}
}

// Evaluate forecasts one medication in the patient's zone.
func (f *Forecaster) Evaluate(med *medication.Medication, leadDays int, loc *time.Location) (*Forecast, error) {
	rate, err := schedule.DosesPerDay(med, f.schedCfg)
	if err != nil {
		return nil, err
	}

	now := f.clk.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return Compute(med, rate, leadDays, today)
}
