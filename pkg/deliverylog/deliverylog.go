// Package deliverylog provides idempotent reminder delivery tracking.
// Keys are deterministic over (medication, scheduled timestamp, kind) so a
// reminder is delivered once no matter how many sweeps observe it.
package deliverylog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds delivery log configuration
type Config struct {
	// DefaultTTL is how long delivery entries are retained
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      30 * 24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}

// Log records reminder deliveries for deduplication.
type Log struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	// Control for cleanup goroutine
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New creates a delivery log
func New(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Log{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("delivery-log"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Key builds the deterministic delivery key for one reminder.
func Key(medicationID string, scheduledAt time.Time, kind string) string {
	parts := []string{
		medicationID,
		scheduledAt.UTC().Truncate(time.Minute).Format(time.RFC3339),
		kind,
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Claim atomically records a delivery attempt. It returns true when this
// caller won the key (the reminder should be sent) and false when the key
// was already claimed by an earlier sweep.
func (l *Log) Claim(ctx context.Context, key, patientID string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "delivery_claim",
		trace.WithAttributes(
			attribute.String("delivery_key", key),
			attribute.String("patient_id", patientID),
		))
	defer span.End()

	query := `
		INSERT INTO reminder_deliveries (delivery_key, patient_id, delivered_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (delivery_key) DO NOTHING
	`

	tag, err := l.pool.Exec(ctx, query, key, patientID, time.Now().Add(l.config.DefaultTTL))
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}

	claimed := tag.RowsAffected() > 0
	span.SetAttributes(attribute.Bool("claimed", claimed))
	return claimed, nil
}

// Release returns a claim so a later sweep can retry the delivery. Used
// when the notification publish failed after the key was claimed.
func (l *Log) Release(ctx context.Context, key string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM reminder_deliveries WHERE delivery_key = $1`, key); err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}

// Delivered reports whether a key has been claimed.
func (l *Log) Delivered(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM reminder_deliveries WHERE delivery_key = $1)`

	var exists bool
	if err := l.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// StartCleanup starts the background cleanup goroutine. Calling it more
// than once is a no-op.
func (l *Log) StartCleanup() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.cleanupLoop()
	l.logger.Info("delivery log cleanup started", zap.Duration("interval", l.config.CleanupInterval))
}

// Stop stops the cleanup goroutine. Safe to call whether or not cleanup
// was ever started.
func (l *Log) Stop() {
	l.cancel()
	if l.started.Load() {
		<-l.done
	}
	l.logger.Info("delivery log stopped")
}

func (l *Log) cleanupLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.cleanup(l.ctx); err != nil {
				l.logger.Error("delivery log cleanup failed", zap.Error(err))
			}
		}
	}
}

// cleanup removes expired entries
func (l *Log) cleanup(ctx context.Context) error {
	query := `DELETE FROM reminder_deliveries WHERE expires_at < NOW()`

	result, err := l.pool.Exec(ctx, query)
	if err != nil {
		return err
	}

	if result.RowsAffected() > 0 {
		l.logger.Info("delivery log cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}

// Stats returns delivery log statistics
type Stats struct {
	TotalEntries int64
	LastDay      int64
}

// GetStats returns current statistics
func (l *Log) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE delivered_at > NOW() - INTERVAL '1 day') AS last_day
		FROM reminder_deliveries
	`

	stats := &Stats{}
	if err := l.pool.QueryRow(ctx, query).Scan(&stats.TotalEntries, &stats.LastDay); err != nil {
		return nil, err
	}
	return stats, nil
}
