package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/tiered-gateway/services"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"github.com/upb/tiered-gateway/utils"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	exhausted := &dispatch.AllBackendsExhaustedError{
		Tier: routing.TierDeep,
		Attempts: []dispatch.AttemptRecord{
			{Backend: "primary-deep", Outcome: dispatch.OutcomeBreakerOpen},
			{Backend: "primary-fast", Outcome: dispatch.OutcomeFailed, Kind: providers.KindQuotaExceeded, Error: "quota"},
		},
		BudgetReason: "attempt depth 1 reached max_depth 1",
		Secondary:    &dispatch.SecondaryProviderUnavailableError{Reason: "client unavailable", Cause: errors.New("no key")},
	}

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"not found error", services.ErrBackendNotFound, http.StatusNotFound, "not_found"},
		{"validation error", services.ErrInvalidInput, http.StatusBadRequest, "bad_request"},
		{"unauthorized error", services.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden error", services.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unavailable error", services.ErrGatewayUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"exhausted domain error", services.ErrAllBackendsExhausted, http.StatusServiceUnavailable, "all_backends_exhausted"},
		{"external error", services.ErrProviderError, http.StatusBadGateway, "bad_gateway"},
		{"internal error", services.ErrInternal, http.StatusInternalServerError, "internal_error"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"dispatch exhausted", exhausted, http.StatusServiceUnavailable, "all_backends_exhausted"},
		{"wrapped dispatch exhausted", fmt.Errorf("generate: %w", exhausted), http.StatusServiceUnavailable, "all_backends_exhausted"},
		{"secondary unavailable", &dispatch.SecondaryProviderUnavailableError{Reason: "call failed"}, http.StatusServiceUnavailable, "secondary_provider_unavailable"},
		{"provider error", providers.NewProviderError("gemini", providers.KindMalformedRequest, "bad schema", 400, nil), http.StatusBadGateway, "bad_gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedError, decode(t, w).Error)
		})
	}
}

func TestHandleServiceError_ExhaustedDetails(t *testing.T) {
	err := &dispatch.AllBackendsExhaustedError{
		Tier:         routing.TierFast,
		Attempts:     []dispatch.AttemptRecord{{Backend: "primary-fast", Outcome: dispatch.OutcomeNotReached}},
		BudgetReason: "cost 0.6000 USD reached max_cost_usd 0.5000",
		Secondary:    &dispatch.SecondaryProviderUnavailableError{Reason: "call failed"},
	}

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	env := decode(t, w)
	assert.Equal(t, "fast", env.Details["tier"])
	assert.Equal(t, err.BudgetReason, env.Details["budget_reason"])
	assert.Contains(t, env.Details["secondary_error"], "call failed")

	attempts := env.Details["attempts"].([]interface{})
	assert.Equal(t, "not_reached_budget", attempts[0].(map[string]interface{})["outcome"])
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	t.Run("field errors become details", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := utils.ValidateStruct(&GenerateRequest{Tier: "huge"})

		HandleValidationError(w, err, zap.NewNop())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w)
		assert.Equal(t, "Validation failed", env.Message)
		assert.Contains(t, env.Details, "message")
		assert.Contains(t, env.Details, "tier")
	})

	t.Run("plain errors keep their message", func(t *testing.T) {
		w := httptest.NewRecorder()

		HandleValidationError(w, errors.New("request body is required"), zap.NewNop())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "request body is required", decode(t, w).Message)
	})
}
