// Package openrouter implements the secondary provider against the
// OpenRouter OpenAI-compatible chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/tiered-gateway/services/providers"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
	providerName   = "openrouter"
)

// Adapter implements providers.SecondaryProvider for OpenRouter
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// New creates an OpenRouter adapter. It fails when no API key is configured.
func New(config providers.ProviderConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// Model returns the configured model
func (a *Adapter) Model() string {
	return a.config.Model
}

// Complete performs a chat completion request
func (a *Adapter) Complete(ctx context.Context, messages []providers.Message) (*providers.Completion, error) {
	if len(messages) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest, "no messages", 0, nil)
	}

	body, err := json.Marshal(a.buildRequest(messages))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.KindMalformedRequest, "failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.Classify(a.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.KindServiceUnavailable, "failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.KindUnknown, "failed to unmarshal response", httpResp.StatusCode, err)
	}

	// OpenRouter reports upstream failures inside a 200 body
	if chatResp.Error != nil {
		return nil, a.apiError(chatResp.Error.statusCode(httpResp.StatusCode), chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return nil, providers.NewProviderError(a.Name(), providers.KindUnknown, "response contained no content", httpResp.StatusCode, nil)
	}

	model := chatResp.Model
	if model == "" {
		model = a.config.Model
	}

	return &providers.Completion{
		Content:   chatResp.Choices[0].Message.Content,
		ModelName: model,
		CostUSD:   chatResp.Usage.Cost,
		Usage: providers.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) buildRequest(messages []providers.Message) *chatRequest {
	req := &chatRequest{
		Model:    a.config.Model,
		Messages: make([]chatMessage, len(messages)),
		Usage:    &usageOptions{Include: true},
	}
	for i, m := range messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return req
}

// handleErrorResponse handles non-200 responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == nil {
		return providers.NewProviderError(a.Name(), providers.KindFromStatus(statusCode), string(body), statusCode, nil)
	}
	return a.apiError(statusCode, errResp.Error.Message)
}

func (a *Adapter) apiError(statusCode int, message string) error {
	return providers.NewProviderError(
		a.Name(),
		providers.KindFromStatus(statusCode),
		message,
		statusCode,
		fmt.Errorf("openrouter status %d", statusCode),
	)
}

// OpenRouter request/response types

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Usage    *usageOptions `json:"usage,omitempty"`
}

type usageOptions struct {
	Include bool `json:"include"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

type errorResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

// statusCode returns the numeric error code, falling back to fallback
func (e *apiError) statusCode(fallback int) int {
	if n, ok := e.Code.(float64); ok && n > 0 {
		return int(n)
	}
	return fallback
}
