// Package gemini implements the primary provider on top of the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/upb/tiered-gateway/services/providers"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	providerName = "gemini"

	roleUser  = "user"
	roleModel = "model"
)

// generator is the subset of *genai.Models used by the adapter
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelPricing holds USD rates per million tokens
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Adapter implements providers.Provider for Gemini
type Adapter struct {
	config  providers.ProviderConfig
	models  generator
	pricing map[string]ModelPricing
	logger  *zap.Logger
}

// New creates a Gemini adapter. It fails when no API key is configured or the
// SDK client cannot be constructed.
func New(ctx context.Context, config providers.ProviderConfig, logger *zap.Logger) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	return newAdapter(config, client.Models, logger), nil
}

func newAdapter(config providers.ProviderConfig, models generator, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		config:  config,
		models:  models,
		pricing: defaultPricing(),
		logger:  logger,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// GenerateContent performs one non-streaming generation
func (a *Adapter) GenerateContent(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	if model == "" {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest, "model is required", 0, nil)
	}

	contents := ConvertMessages(req.Messages, req.Images)
	if len(contents) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest, "no content to send", 0, nil)
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.models.GenerateContent(ctx, model, contents, buildConfig(req))
	if err != nil {
		return nil, a.classify(err)
	}

	out, err := a.convertResponse(model, resp)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini generation completed",
		zap.String("model", model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Float64("cost_usd", out.CostUSD),
		zap.Duration("latency", time.Since(start)))

	return out, nil
}

func buildConfig(req *providers.GenerateRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Tools: ConvertTools(req.Tools),
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	return config
}

// ConvertMessages converts messages to genai contents. System entries are
// skipped; images are attached to the last user turn.
func ConvertMessages(msgs []providers.Message, images []providers.ImageAttachment) []*genai.Content {
	var result []*genai.Content
	lastUser := -1
	for _, m := range msgs {
		var role string
		switch m.Role {
		case providers.RoleUser:
			role = roleUser
		case providers.RoleAssistant:
			role = roleModel
		default:
			continue
		}
		if role == roleUser {
			lastUser = len(result)
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	if len(images) == 0 {
		return result
	}
	if lastUser < 0 {
		result = append(result, &genai.Content{Role: roleUser})
		lastUser = len(result) - 1
	}
	for _, img := range images {
		result[lastUser].Parts = append(result[lastUser].Parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: img.MIMEType,
				Data:     img.Data,
			},
		})
	}
	return result
}

// ConvertTools converts tool declarations to genai tools
func ConvertTools(tools []providers.ToolDeclaration) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			decl.ParametersJsonSchema = t.Parameters
		}
		decls[i] = decl
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (a *Adapter) convertResponse(model string, resp *genai.GenerateContentResponse) (*providers.GenerateResponse, error) {
	if resp == nil {
		return nil, providers.NewProviderError(a.Name(), providers.KindUnknown, "empty response", 0, nil)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest,
			fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason), 0, nil)
	}

	out := &providers.GenerateResponse{
		Model: model,
		Raw:   resp,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.FunctionCall != nil {
				out.FunctionCalls = append(out.FunctionCalls, providers.FunctionCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
				continue
			}
			text.WriteString(part.Text)
		}
	}
	out.Text = text.String()

	if um := resp.UsageMetadata; um != nil {
		out.Usage = providers.Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount) + int(um.ThoughtsTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	}
	out.CostUSD = a.cost(model, out.Usage)

	if out.Text == "" && len(out.FunctionCalls) == 0 {
		// billed even though unusable
		provErr := providers.NewProviderError(a.Name(), providers.KindUnknown, "response contained no text", 0, nil)
		provErr.CostUSD = out.CostUSD
		return nil, provErr
	}

	return out, nil
}

// cost prices usage with the rate card of model. Unknown models cost zero.
func (a *Adapter) cost(model string, usage providers.Usage) float64 {
	p, ok := a.pricing[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*p.InputPerMillion/1e6 +
		float64(usage.CompletionTokens)*p.OutputPerMillion/1e6
}

// classify maps SDK errors to provider error kinds
func (a *Adapter) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(a.Name(), kindFromAPIError(apiErr.Code, apiErr.Status), apiErr.Message, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return providers.NewProviderError(a.Name(), kindFromAPIError(apiErrPtr.Code, apiErrPtr.Status), apiErrPtr.Message, apiErrPtr.Code, err)
	}
	return providers.Classify(a.Name(), err)
}

func kindFromAPIError(code int, status string) providers.ErrorKind {
	switch status {
	case "RESOURCE_EXHAUSTED":
		return providers.KindQuotaExceeded
	case "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		return providers.KindServiceUnavailable
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "NOT_FOUND":
		return providers.KindMalformedRequest
	}
	if code == http.StatusForbidden {
		return providers.KindUnknown
	}
	return providers.KindFromStatus(code)
}

// defaultPricing is the Gemini API paid-tier rate card for standard context lengths
func defaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gemini-2.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.00},
		"gemini-2.5-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50},
		"gemini-2.5-flash-lite": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"gemini-2.0-flash":      {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"gemini-2.0-flash-lite": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	}
}
