package providers

import (
	"context"
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is a primary backend client exposing a "generate content" operation
type Provider interface {
	// Name returns the provider name (e.g., "gemini")
	Name() string

	// GenerateContent runs one non-streaming generation against req.Model
	GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// SecondaryProvider is the last-resort aggregator exposing a flat "complete" operation
type SecondaryProvider interface {
	Name() string

	// Complete sends messages as-is, system entry included
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// GenerateRequest is the payload for one primary backend call
type GenerateRequest struct {
	// Model identifier (e.g., "gemini-2.5-flash")
	Model string `json:"model"`

	// SystemPrompt is sent as a system instruction when non-empty
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the prior history followed by the current user turn
	Messages []Message `json:"messages"`

	// Tools are function declarations offered to the model
	Tools []ToolDeclaration `json:"tools,omitempty"`

	// Images are attached to the final user turn
	Images []ImageAttachment `json:"-"`

	// MaxOutputTokens limits the response length; 0 uses the provider default
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// GenerateResponse is the result of a primary backend call
type GenerateResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`

	// FunctionCalls requested by the model when tools were offered
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`

	// CostUSD comes from the provider's own usage accounting
	CostUSD float64 `json:"cost_usd"`

	// Raw is the provider-native response
	Raw any `json:"-"`
}

// FunctionCall is a tool invocation requested by the model
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Completion is the result of a secondary provider call
type Completion struct {
	Content   string  `json:"content"`
	ModelName string  `json:"model_name"`
	CostUSD   float64 `json:"cost_usd"`
	Usage     Usage   `json:"usage"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the message text
	Content string `json:"content" validate:"required"`
}

// ToolDeclaration describes one function the model may call
type ToolDeclaration struct {
	Name        string         `json:"name" validate:"required,max=64"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ImageAttachment is inline image data sent with the user turn
type ImageAttachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Model is the default model when a request names none
	Model string

	// Timeout for requests
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 60 * time.Second,
		Headers: make(map[string]string),
	}
}
