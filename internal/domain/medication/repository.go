// Package medication provides the event store repository.
package medication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caretrack/go-mar/internal/infrastructure/postgres"
)

// Repository provides event sourcing persistence for medications
type Repository struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	eventTopic string
}

// NewRepository creates a new repository. Saved events are mirrored into
// the outbox table and relayed to eventTopic by the outbox relay.
func NewRepository(pool *pgxpool.Pool, eventTopic string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger, eventTopic: eventTopic}
}

// ErrNotFound indicates the aggregate has no stored events.
var ErrNotFound = fmt.Errorf("medication not found")

// Save persists new events for an aggregate
func (r *Repository) Save(ctx context.Context, agg *Aggregate) error {
	if len(agg.Changes()) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range agg.Changes() {
		event.Version = agg.Version() - len(agg.Changes()) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := r.writeOutbox(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	agg.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO medication_events
		(aggregate_id, event_type, event_data, version, timestamp, patient_id, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.Timestamp,
		event.PatientID,
		event.CorrelationID,
	)
	return err
}

// writeOutbox mirrors an event into the outbox inside the same
// transaction so the relay publishes exactly what was committed.
func (r *Repository) writeOutbox(ctx context.Context, tx pgx.Tx, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for outbox: %w", err)
	}

	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    r.eventTopic,
		KafkaKey:      event.AggregateID,
	})
}

// Load retrieves an aggregate by ID
func (r *Repository) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// Get loads the read-model snapshot of a medication.
func (r *Repository) Get(ctx context.Context, id string) (*Medication, error) {
	agg, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return agg.Snapshot(), nil
}

// GetEvents retrieves all events for an aggregate
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT aggregate_id, event_type, event_data, version, timestamp, patient_id, correlation_id
		FROM medication_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.PatientID, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListActive loads snapshots of every non-terminal medication for a patient.
func (r *Repository) ListActive(ctx context.Context, patientID string) ([]*Medication, error) {
	query := `
		SELECT DISTINCT aggregate_id
		FROM medication_events
		WHERE patient_id = $1
	`

	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var meds []*Medication
	for _, id := range ids {
		agg, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if agg.Status().Terminal() {
			continue
		}
		meds = append(meds, agg.Snapshot())
	}
	return meds, nil
}

// ListPatients returns every patient with at least one stored medication.
// The reminder sweep iterates over this set.
func (r *Repository) ListPatients(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT patient_id FROM medication_events WHERE patient_id <> ''`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		patients = append(patients, id)
	}
	return patients, rows.Err()
}
