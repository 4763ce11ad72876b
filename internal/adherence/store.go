package adherence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecordStore persists dose records. Concurrent writes to the same
// (medication, timestamp) pair are resolved optimistically: the second
// writer gets ErrAlreadyRecorded.
type RecordStore interface {
	// Get returns the current (highest revision) record for the pair, or
	// ErrNotRecorded.
	Get(ctx context.Context, medicationID string, scheduledAt time.Time) (*DoseRecord, error)
	// Put inserts the initial record, failing with ErrAlreadyRecorded when
	// one already exists.
	Put(ctx context.Context, record *DoseRecord) error
	// Supersede inserts a new revision on top of an existing record.
	Supersede(ctx context.Context, record *DoseRecord) error
	// Query returns current records for the medication with scheduled
	// timestamps in [start, end), keyed by scheduled instant (Unix seconds).
	Query(ctx context.Context, medicationID string, start, end time.Time) (map[int64]*DoseRecord, error)
}

// PostgresStore implements RecordStore on pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPostgresStore creates a dose record store.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("dose-record-store"),
	}
}

// Get returns the current record for the pair.
func (s *PostgresStore) Get(ctx context.Context, medicationID string, scheduledAt time.Time) (*DoseRecord, error) {
	query := `
		SELECT medication_id, patient_id, scheduled_at, revision, outcome, confirmed_at, note, recorded_at
		FROM dose_records
		WHERE medication_id = $1 AND scheduled_at = $2
		ORDER BY revision DESC
		LIMIT 1
	`

	rec := &DoseRecord{}
	err := s.pool.QueryRow(ctx, query, medicationID, scheduledAt).Scan(
		&rec.MedicationID, &rec.PatientID, &rec.ScheduledAt, &rec.Revision,
		&rec.Outcome, &rec.ConfirmedAt, &rec.Note, &rec.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s at %s", ErrNotRecorded, medicationID, scheduledAt.Format(time.RFC3339))
		}
		return nil, err
	}
	return rec, nil
}

// Put inserts the initial record for a dose event. The primary key on
// (medication_id, scheduled_at, revision) makes outcomes write-once without
// locks: a conflicting insert affects zero rows.
func (s *PostgresStore) Put(ctx context.Context, record *DoseRecord) error {
	ctx, span := s.tracer.Start(ctx, "dose_record_put",
		trace.WithAttributes(
			attribute.String("medication_id", record.MedicationID),
			attribute.String("outcome", string(record.Outcome)),
		))
	defer span.End()

	query := `
		INSERT INTO dose_records
		(medication_id, patient_id, scheduled_at, revision, outcome, confirmed_at, note, recorded_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
		ON CONFLICT (medication_id, scheduled_at, revision) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		record.MedicationID, record.PatientID, record.ScheduledAt,
		record.Outcome, record.ConfirmedAt, record.Note, record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dose record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("conflict", true))
		return fmt.Errorf("%w: %s at %s", ErrAlreadyRecorded,
			record.MedicationID, record.ScheduledAt.Format(time.RFC3339))
	}
	record.Revision = 0
	return nil
}

// Supersede appends a correcting revision on top of the current record.
func (s *PostgresStore) Supersede(ctx context.Context, record *DoseRecord) error {
	current, err := s.Get(ctx, record.MedicationID, record.ScheduledAt)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dose_records
		(medication_id, patient_id, scheduled_at, revision, outcome, confirmed_at, note, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (medication_id, scheduled_at, revision) DO NOTHING
	`

	revision := current.Revision + 1
	tag, err := s.pool.Exec(ctx, query,
		record.MedicationID, record.PatientID, record.ScheduledAt, revision,
		record.Outcome, record.ConfirmedAt, record.Note, record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert amendment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent amendment for %s", ErrAlreadyRecorded, record.MedicationID)
	}
	record.Revision = revision
	return nil
}

// Query returns the current record per scheduled instant in [start, end).
func (s *PostgresStore) Query(ctx context.Context, medicationID string, start, end time.Time) (map[int64]*DoseRecord, error) {
	query := `
		SELECT DISTINCT ON (scheduled_at)
		       medication_id, patient_id, scheduled_at, revision, outcome, confirmed_at, note, recorded_at
		FROM dose_records
		WHERE medication_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at ASC, revision DESC
	`

	rows, err := s.pool.Query(ctx, query, medicationID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[int64]*DoseRecord)
	for rows.Next() {
		rec := &DoseRecord{}
		err := rows.Scan(
			&rec.MedicationID, &rec.PatientID, &rec.ScheduledAt, &rec.Revision,
			&rec.Outcome, &rec.ConfirmedAt, &rec.Note, &rec.RecordedAt,
		)
		if err != nil {
			return nil, err
		}
		records[rec.ScheduledAt.Unix()] = rec
	}
	return records, rows.Err()
}
