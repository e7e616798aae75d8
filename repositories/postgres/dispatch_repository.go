package postgres

import (
	"context"
	"fmt"

	"github.com/upb/tiered-gateway/models"
	"github.com/upb/tiered-gateway/repositories"
	"go.uber.org/zap"
)

const dispatchColumns = `id, request_id, tier, status, backend_used, model, cost_usd,
		       attempt_depth, attempts, error_message, latency_ms, created_at`

// DispatchRepository implements the repositories.DispatchRepository interface
type DispatchRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDispatchRepository creates a new dispatch ledger repository
func NewDispatchRepository(db *DB, logger *zap.Logger) repositories.DispatchRepository {
	return &DispatchRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts one dispatch record
func (r *DispatchRepository) Create(ctx context.Context, record *models.DispatchRecord) error {
	query := `
		INSERT INTO dispatch_records (
			id, request_id, tier, status, backend_used, model, cost_usd,
			attempt_depth, attempts, error_message, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	attempts := []byte(record.Attempts)
	if len(attempts) == 0 {
		attempts = []byte("[]")
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Tier,
		record.Status,
		record.BackendUsed,
		record.Model,
		record.CostUSD,
		record.AttemptDepth,
		attempts,
		record.ErrorMessage,
		record.LatencyMs,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}

	r.logger.Debug("dispatch record inserted",
		zap.String("id", record.ID.String()),
		zap.String("status", string(record.Status)))
	return nil
}

// ListRecent returns up to limit records, newest first
func (r *DispatchRepository) ListRecent(ctx context.Context, limit int) ([]*models.DispatchRecord, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatch_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.query(ctx, query, limit)
}

// ListByRequestID returns every record written for one request ID, newest first
func (r *DispatchRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.DispatchRecord, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatch_records
		WHERE request_id = $1
		ORDER BY created_at DESC
	`
	return r.query(ctx, query, requestID)
}

func (r *DispatchRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.DispatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.DispatchRecord, 0)
	for rows.Next() {
		rec := &models.DispatchRecord{}
		var attempts []byte
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Tier,
			&rec.Status,
			&rec.BackendUsed,
			&rec.Model,
			&rec.CostUSD,
			&rec.AttemptDepth,
			&attempts,
			&rec.ErrorMessage,
			&rec.LatencyMs,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		rec.Attempts = attempts
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch record rows: %w", err)
	}

	return records, nil
}
