package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchStatus is the terminal state of one dispatch
type DispatchStatus string

const (
	DispatchStatusSucceeded DispatchStatus = "succeeded"
	DispatchStatusFallback  DispatchStatus = "fallback"
	DispatchStatusExhausted DispatchStatus = "exhausted"
)

// DispatchRecord is one row of the dispatch ledger
type DispatchRecord struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Tier         string          `json:"tier" db:"tier"`
	Status       DispatchStatus  `json:"status" db:"status"`
	BackendUsed  *string         `json:"backend_used,omitempty" db:"backend_used"`
	Model        *string         `json:"model,omitempty" db:"model"`
	CostUSD      float64         `json:"cost_usd" db:"cost_usd"`
	AttemptDepth int             `json:"attempt_depth" db:"attempt_depth"`
	Attempts     json.RawMessage `json:"attempts" db:"attempts"` // JSONB list of per-backend outcomes
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	LatencyMs    int             `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the DispatchRecord model
func (DispatchRecord) TableName() string {
	return "dispatch_records"
}

// NewDispatchRecord creates a new DispatchRecord instance
func NewDispatchRecord(requestID, tier string, status DispatchStatus) *DispatchRecord {
	return &DispatchRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Tier:      tier,
		Status:    status,
		Attempts:  json.RawMessage("[]"),
		CreatedAt: time.Now().UTC(),
	}
}

// WithBackend sets the backend and model that served the request
func (r *DispatchRecord) WithBackend(backend, model string) *DispatchRecord {
	r.BackendUsed = &backend
	if model != "" {
		r.Model = &model
	}
	return r
}

// WithError sets the terminal error message
func (r *DispatchRecord) WithError(msg string) *DispatchRecord {
	r.ErrorMessage = &msg
	return r
}

// WithAttempts encodes per-backend outcomes
func (r *DispatchRecord) WithAttempts(attempts any) *DispatchRecord {
	if b, err := json.Marshal(attempts); err == nil && string(b) != "null" {
		r.Attempts = b
	}
	return r
}
