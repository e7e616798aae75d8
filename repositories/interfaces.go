package repositories

import (
	"context"

	"github.com/upb/tiered-gateway/models"
)

// DispatchRepository persists the dispatch ledger
type DispatchRepository interface {
	// Create inserts one dispatch record
	Create(ctx context.Context, record *models.DispatchRecord) error

	// ListRecent returns up to limit records, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.DispatchRecord, error)

	// ListByRequestID returns every record written for one request ID, newest first
	ListByRequestID(ctx context.Context, requestID string) ([]*models.DispatchRecord, error)
}
