package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/internal/observability"
	"github.com/upb/tiered-gateway/middleware"
	"github.com/upb/tiered-gateway/models"
	"github.com/upb/tiered-gateway/services"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"github.com/upb/tiered-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultDispatchLimit = 50
	maxDispatchLimit     = 500

	probeTimeout = 30 * time.Second
)

// BackendHealthHandler handles GET /api/v1/health/backends
func BackendHealthHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		if err := utils.WriteOK(w, deps.Gateway.Probe(ctx)); err != nil {
			deps.Logger.Error("failed to write probe response", zap.Error(err))
		}
	}
}

// ListBreakersHandler handles GET /api/v1/breakers. Every backend named by a
// chain is listed, including ones that have never failed.
func ListBreakersHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		breakers := deps.Gateway.Breakers()
		for _, id := range deps.Gateway.Resolver().Backends() {
			breakers.GetOrCreate(id)
		}

		if err := utils.WriteOK(w, breakers.Snapshot()); err != nil {
			deps.Logger.Error("failed to write breakers response", zap.Error(err))
		}
	}
}

// ResetBreakerHandler handles POST /api/v1/breakers/{backend}/reset
func ResetBreakerHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := routing.BackendID(chi.URLParam(r, "backend"))
		logger := observability.WithRequestID(deps.Logger, middleware.GetRequestIDFromContext(r.Context()))

		if !knownBackend(deps, id) {
			HandleServiceError(w, services.ErrBackendNotFound, logger)
			return
		}

		breakers := deps.Gateway.Breakers()
		breakers.Reset(id)

		actor := ""
		if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
			actor = claims.Sub
		}
		logger.Info("breaker reset by operator",
			zap.String("backend", string(id)),
			zap.String("actor", actor))

		if err := utils.WriteOK(w, breakers.GetOrCreate(id)); err != nil {
			logger.Error("failed to write breaker response", zap.Error(err))
		}
	}
}

func knownBackend(deps *app.Dependencies, id routing.BackendID) bool {
	for _, known := range deps.Gateway.Resolver().Backends() {
		if known == id {
			return true
		}
	}
	return false
}

// ToolsRequest is the body of PUT /api/v1/tools
type ToolsRequest struct {
	Tools []providers.ToolDeclaration `json:"tools" validate:"dive"`
}

// GetToolsHandler handles GET /api/v1/tools
func GetToolsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := utils.WriteOK(w, deps.Gateway.ToolDeclarations()); err != nil {
			deps.Logger.Error("failed to write tools response", zap.Error(err))
		}
	}
}

// ReplaceToolsHandler handles PUT /api/v1/tools. An empty list clears the set.
func ReplaceToolsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.WithRequestID(deps.Logger, middleware.GetRequestIDFromContext(r.Context()))

		var req ToolsRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}

		seen := make(map[string]struct{}, len(req.Tools))
		for _, decl := range req.Tools {
			if _, dup := seen[decl.Name]; dup {
				HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation, "duplicate tool name", nil).
					WithDetail("name", decl.Name), logger)
				return
			}
			seen[decl.Name] = struct{}{}
		}

		deps.Gateway.SetToolDeclarations(req.Tools)

		if err := utils.WriteOK(w, deps.Gateway.ToolDeclarations()); err != nil {
			logger.Error("failed to write tools response", zap.Error(err))
		}
	}
}

// ClearToolsHandler handles DELETE /api/v1/tools
func ClearToolsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Gateway.SetToolDeclarations(nil)
		utils.WriteNoContent(w)
	}
}

// ListDispatchesHandler handles GET /api/v1/dispatches?limit=N&request_id=ID
func ListDispatchesHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequestID(deps.Logger, middleware.GetRequestIDFromContext(ctx))

		limit := defaultDispatchLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxDispatchLimit {
				_ = utils.WriteBadRequest(w, "Validation failed", map[string]interface{}{
					"limit": "limit must be between 1 and " + strconv.Itoa(maxDispatchLimit),
				})
				return
			}
			limit = n
		}

		records := []*models.DispatchRecord{}
		if deps.Dispatches != nil {
			var err error
			if requestID := r.URL.Query().Get("request_id"); requestID != "" {
				records, err = deps.Dispatches.ListByRequestID(ctx, requestID)
			} else {
				records, err = deps.Dispatches.ListRecent(ctx, limit)
			}
			if err != nil {
				HandleServiceError(w, services.WrapError(services.ErrorTypeUnavailable, "dispatch ledger unavailable", err), logger)
				return
			}
		}

		if err := utils.WriteOK(w, records); err != nil {
			logger.Error("failed to write dispatches response", zap.Error(err))
		}
	}
}
