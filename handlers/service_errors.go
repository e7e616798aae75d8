package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/tiered-gateway/services"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain and dispatch errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	// Dispatch errors first: an exhausted error wraps the secondary failure
	var exhausted *dispatch.AllBackendsExhaustedError
	if errors.As(err, &exhausted) {
		logger.Error("all backends exhausted", zap.Error(err))
		if err := utils.WriteServiceUnavailable(w, "all_backends_exhausted", "No backend could serve the request", exhaustedDetails(exhausted)); err != nil {
			logger.Error("failed to write exhausted response", zap.Error(err))
		}
		return
	}

	var secondary *dispatch.SecondaryProviderUnavailableError
	if errors.As(err, &secondary) {
		if err := utils.WriteServiceUnavailable(w, "secondary_provider_unavailable", secondary.Error(), nil); err != nil {
			logger.Error("failed to write secondary unavailable response", zap.Error(err))
		}
		return
	}

	var providerErr *providers.ProviderError
	if errors.As(err, &providerErr) {
		details := map[string]interface{}{
			"provider":   providerErr.Provider,
			"error_kind": string(providerErr.Kind),
		}
		if err := utils.WriteBadGateway(w, providerErr.Error(), details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsNotFoundError(err):
		if err := utils.WriteNotFound(w, err.Error()); err != nil {
			logger.Error("failed to write not found response", zap.Error(err))
		}

	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsUnauthorizedError(err):
		if err := utils.WriteUnauthorized(w, err.Error()); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsForbiddenError(err):
		if err := utils.WriteForbidden(w, err.Error()); err != nil {
			logger.Error("failed to write forbidden response", zap.Error(err))
		}

	case services.IsUnavailableError(err):
		if err := utils.WriteServiceUnavailable(w, "", err.Error(), details); err != nil {
			logger.Error("failed to write unavailable response", zap.Error(err))
		}

	case services.IsExhaustedError(err):
		if err := utils.WriteServiceUnavailable(w, "all_backends_exhausted", err.Error(), details); err != nil {
			logger.Error("failed to write exhausted response", zap.Error(err))
		}

	case services.IsExternalError(err):
		if err := utils.WriteBadGateway(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}

func exhaustedDetails(e *dispatch.AllBackendsExhaustedError) map[string]interface{} {
	details := map[string]interface{}{
		"tier":     e.Tier.String(),
		"attempts": e.Attempts,
	}
	if e.BudgetReason != "" {
		details["budget_reason"] = e.BudgetReason
	}
	if e.Secondary != nil {
		details["secondary_error"] = e.Secondary.Error()
	}
	return details
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
