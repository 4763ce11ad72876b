// Package reminder evaluates which dose events currently require
// notification. The engine is stateless; delivery dedup belongs to the
// calling collaborator's delivery log.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/adherence"
)

// Settings are per-patient reminder preferences, mutated only by explicit
// patient preference updates.
type Settings struct {
	PatientID string `json:"patient_id"`
	Enabled   bool   `json:"enabled"`
	// AdvanceLead is how far before a scheduled dose the advance reminder
	// becomes eligible.
	AdvanceLead time.Duration `json:"advance_lead"`
	// MissedFollowupDelay is the grace period after a scheduled dose before
	// it is treated as missed.
	MissedFollowupDelay time.Duration `json:"missed_followup_delay"`
	// RefillLeadDays is the refill reminder lead window.
	RefillLeadDays int `json:"refill_lead_days"`
	// Timezone is the patient's canonical IANA zone; all schedule expansion
	// happens in it.
	Timezone string `json:"timezone"`
}

// DefaultSettings apply to patients who never saved preferences.
func DefaultSettings(patientID string) *Settings {
	return &Settings{
		PatientID:           patientID,
		Enabled:             true,
		AdvanceLead:         15 * time.Minute,
		MissedFollowupDelay: 60 * time.Minute,
		RefillLeadDays:      7,
		Timezone:            "UTC",
	}
}

// Location resolves the canonical zone, falling back to UTC on a bad name.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SettingsStore supplies per-patient reminder settings.
type SettingsStore interface {
	Get(ctx context.Context, patientID string) (*Settings, error)
	Put(ctx context.Context, settings *Settings) error
}

// PostgresSettingsStore implements SettingsStore on pgx.
type PostgresSettingsStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSettingsStore creates a settings store.
func NewPostgresSettingsStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSettingsStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSettingsStore{pool: pool, logger: logger}
}

// Get loads settings, returning defaults for patients without a row.
func (s *PostgresSettingsStore) Get(ctx context.Context, patientID string) (*Settings, error) {
	query := `
		SELECT patient_id, enabled, advance_lead_minutes, missed_followup_minutes, refill_lead_days, timezone
		FROM reminder_settings
		WHERE patient_id = $1
	`

	var (
		settings        Settings
		leadMinutes     int
		followupMinutes int
	)
	err := s.pool.QueryRow(ctx, query, patientID).Scan(
		&settings.PatientID, &settings.Enabled, &leadMinutes,
		&followupMinutes, &settings.RefillLeadDays, &settings.Timezone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultSettings(patientID), nil
		}
		return nil, err
	}

	settings.AdvanceLead = time.Duration(leadMinutes) * time.Minute
	settings.MissedFollowupDelay = time.Duration(followupMinutes) * time.Minute
	return &settings, nil
}

// Put upserts a patient's settings.
func (s *PostgresSettingsStore) Put(ctx context.Context, settings *Settings) error {
	query := `
		INSERT INTO reminder_settings
		(patient_id, enabled, advance_lead_minutes, missed_followup_minutes, refill_lead_days, timezone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id) DO UPDATE
		SET enabled = $2, advance_lead_minutes = $3, missed_followup_minutes = $4,
		    refill_lead_days = $5, timezone = $6, updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		settings.PatientID, settings.Enabled,
		int(settings.AdvanceLead/time.Minute),
		int(settings.MissedFollowupDelay/time.Minute),
		settings.RefillLeadDays, settings.Timezone,
	)
	return err
}

// TrackerPreferences adapts a settings store to the adherence tracker's
// narrower preference interface.
type TrackerPreferences struct {
	Store SettingsStore
}

// Preferences returns the zone and follow-up delay for a patient.
func (p TrackerPreferences) Preferences(ctx context.Context, patientID string) (adherence.Preferences, error) {
	settings, err := p.Store.Get(ctx, patientID)
	if err != nil {
		return adherence.Preferences{}, err
	}
	return adherence.Preferences{
		Location:      settings.Location(),
		FollowupDelay: settings.MissedFollowupDelay,
	}, nil
}
