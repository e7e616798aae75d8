package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/services/audit"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/routing"
	"github.com/upb/tiered-gateway/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db               *sql.DB
	gatewayAvailable bool
	logger           *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when the
// dispatch ledger is disabled.
func NewHealthHandler(db *sql.DB, gatewayAvailable bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:               db,
		gatewayAvailable: gatewayAvailable,
		logger:           logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Only the database gates readiness; without primary backends the gateway
// still serves through the secondary provider.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch {
	case h.db == nil:
		checks["database"] = "not_configured"
	case h.checkDatabase(ctx) != nil:
		checks["database"] = "unhealthy"
		allHealthy = false
	default:
		checks["database"] = "healthy"
	}

	if h.gatewayAvailable {
		checks["primary_backends"] = "configured"
	} else {
		checks["primary_backends"] = "none_configured"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	return nil
}

func healthHandler(deps *app.Dependencies) *HealthHandler {
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	available := deps.Gateway != nil && deps.Gateway.Available()
	return NewHealthHandler(db, available, deps.Logger)
}

// HealthCheck returns the liveness handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return healthHandler(deps).HandleHealth
}

// ReadinessCheck returns the readiness handler
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return healthHandler(deps).HandleReadiness
}

// StatusResponse describes the running gateway
type StatusResponse struct {
	Version     string              `json:"version"`
	Environment string              `json:"environment"`
	Available   bool                `json:"available"`
	Chains      map[string][]string `json:"chains"`
	Backends    map[string]string   `json:"backends"`
	Limits      budget.Limits       `json:"limits"`
	Recorder    *audit.Stats        `json:"recorder,omitempty"`
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolver := deps.Gateway.Resolver()

		chains := make(map[string][]string)
		for _, tier := range routing.AllTiers {
			chains[tier.String()] = resolver.Resolve(tier).Strings()
		}

		response := StatusResponse{
			Version:     deps.Config.Version,
			Environment: deps.Config.Environment,
			Available:   deps.Gateway.Available(),
			Chains:      chains,
			Backends:    deps.Config.Gateway.Backends,
			Limits:      deps.Gateway.Limits(),
		}
		if deps.Recorder != nil {
			stats := deps.Recorder.GetStats()
			response.Recorder = &stats
		}

		if err := utils.WriteOK(w, response); err != nil {
			deps.Logger.Error("failed to write status response", zap.Error(err))
		}
	}
}
