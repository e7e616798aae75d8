package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/internal/observability"
	"github.com/upb/tiered-gateway/middleware"
	"github.com/upb/tiered-gateway/services"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/dispatch"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"github.com/upb/tiered-gateway/utils"
	"go.uber.org/zap"
)

// ImagePayload is an inline image attachment
type ImagePayload struct {
	MIMEType string `json:"mime_type" validate:"required"`
	Data     string `json:"data" validate:"required,base64"`
}

// GenerateRequest is the body of POST /api/v1/generate
type GenerateRequest struct {
	Message      string         `json:"message" validate:"required"`
	Tier         string         `json:"tier" validate:"omitempty,tier"`
	SystemPrompt string         `json:"system_prompt"`
	EnableTools  *bool          `json:"enable_tools"`
	History      interface{}    `json:"history"`
	Images       []ImagePayload `json:"images" validate:"omitempty,dive"`
	MaxCostUSD   *float64       `json:"max_cost_usd" validate:"omitempty,gte=0"`
	MaxDepth     *int           `json:"max_depth" validate:"omitempty,gte=0"`
}

// toDispatchRequest applies defaults: tier fast, tools enabled
func (req *GenerateRequest) toDispatchRequest(requestID string) (dispatch.DispatchRequest, error) {
	tier := routing.TierFast
	if req.Tier != "" {
		parsed, err := routing.ParseTier(req.Tier)
		if err != nil {
			return dispatch.DispatchRequest{}, services.NewDomainError(services.ErrorTypeValidation, "unknown tier", err).
				WithDetail("tier", req.Tier)
		}
		tier = parsed
	}

	out := dispatch.NewDispatchRequest(req.Message, tier)
	out.RequestID = requestID
	out.SystemPrompt = req.SystemPrompt
	out.History = dispatch.NormalizeHistory(req.History)
	out.Budget = budget.Overrides{MaxCostUSD: req.MaxCostUSD, MaxDepth: req.MaxDepth}
	if req.EnableTools != nil {
		out.EnableTools = *req.EnableTools
	}

	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return dispatch.DispatchRequest{}, services.NewDomainError(services.ErrorTypeValidation, "image data is not valid base64", err).
				WithDetail("index", i)
		}
		out.Images = append(out.Images, providers.ImageAttachment{MIMEType: img.MIMEType, Data: data})
	}

	return out, nil
}

// GenerateHandler handles POST /api/v1/generate
func GenerateHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetRequestIDFromContext(ctx)
		logger := observability.WithRequestID(deps.Logger, requestID)

		var req GenerateRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if err := utils.ValidateStruct(&req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}

		dreq, err := req.toDispatchRequest(requestID)
		if err != nil {
			HandleServiceError(w, err, logger)
			return
		}

		result, err := deps.Gateway.Dispatch(ctx, dreq)
		if err != nil {
			HandleServiceError(w, err, logger)
			return
		}

		if err := utils.WriteOK(w, result); err != nil {
			logger.Error("failed to write generate response", zap.Error(err))
		}
	}
}

// ChatRequest is the body of POST /api/v1/chat
type ChatRequest struct {
	Message      string      `json:"message" validate:"required"`
	Tier         string      `json:"tier" validate:"omitempty,tier"`
	SystemPrompt string      `json:"system_prompt"`
	History      interface{} `json:"history"`
}

// ChatResponse is the reply to one chat turn
type ChatResponse struct {
	*dispatch.InvocationResult
	History []providers.Message `json:"history"`
}

// ChatHandler handles POST /api/v1/chat. The session is bound to the tier's
// head backend and never cascades.
func ChatHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequestID(deps.Logger, middleware.GetRequestIDFromContext(ctx))

		var req ChatRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if err := utils.ValidateStruct(&req); err != nil {
			HandleValidationError(w, err, logger)
			return
		}

		tier := routing.TierFast
		if req.Tier != "" {
			parsed, err := routing.ParseTier(req.Tier)
			if err != nil {
				HandleServiceError(w, services.WrapValidation("unknown tier", err), logger)
				return
			}
			tier = parsed
		}

		session := deps.Gateway.BuildSession(req.History, tier)
		if session == nil {
			HandleServiceError(w, services.ErrGatewayUnavailable, logger)
			return
		}
		session.SystemPrompt = req.SystemPrompt

		result, err := session.Send(ctx, req.Message)
		if err != nil {
			HandleServiceError(w, err, logger)
			return
		}

		if err := utils.WriteOK(w, ChatResponse{InvocationResult: result, History: session.History()}); err != nil {
			logger.Error("failed to write chat response", zap.Error(err))
		}
	}
}
