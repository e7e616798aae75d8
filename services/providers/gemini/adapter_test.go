package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tiered-gateway/services/providers"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp *genai.GenerateContentResponse
	err  error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	deadline bool
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	_, f.deadline = ctx.Deadline()
	return f.resp, f.err
}

func textResponse(text string, prompt, candidates int32) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: text}},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     prompt,
			CandidatesTokenCount: candidates,
			TotalTokenCount:      prompt + candidates,
		},
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), providers.ProviderConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestConvertMessages(t *testing.T) {
	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: "ignored"},
		{Role: providers.RoleUser, Content: "hi"},
		{Role: providers.RoleAssistant, Content: "hello"},
		{Role: providers.RoleUser, Content: "describe this"},
	}
	images := []providers.ImageAttachment{{MIMEType: "image/png", Data: []byte{1, 2, 3}}}

	got := ConvertMessages(msgs, images)

	require.Len(t, got, 3)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "model", got[1].Role)
	assert.Equal(t, "hello", got[1].Parts[0].Text)

	require.Len(t, got[2].Parts, 2)
	assert.Equal(t, "describe this", got[2].Parts[0].Text)
	require.NotNil(t, got[2].Parts[1].InlineData)
	assert.Equal(t, "image/png", got[2].Parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte{1, 2, 3}, got[2].Parts[1].InlineData.Data)
}

func TestConvertMessages_ImagesWithoutUserTurn(t *testing.T) {
	got := ConvertMessages(nil, []providers.ImageAttachment{{MIMEType: "image/jpeg", Data: []byte{9}}})

	require.Len(t, got, 1)
	assert.Equal(t, "user", got[0].Role)
	require.Len(t, got[0].Parts, 1)
	assert.NotNil(t, got[0].Parts[0].InlineData)
}

func TestConvertTools(t *testing.T) {
	assert.Nil(t, ConvertTools(nil))

	tools := ConvertTools([]providers.ToolDeclaration{
		{
			Name:        "search_news",
			Description: "Search recent news",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
			},
		},
		{Name: "no_params"},
	})

	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 2)
	assert.Equal(t, "search_news", tools[0].FunctionDeclarations[0].Name)
	assert.NotNil(t, tools[0].FunctionDeclarations[0].ParametersJsonSchema)
	assert.Nil(t, tools[0].FunctionDeclarations[1].ParametersJsonSchema)
}

func TestAdapter_GenerateContent(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Hello there", 1_000_000, 100_000)}
	adapter := newAdapter(providers.ProviderConfig{Timeout: time.Minute}, gen, zap.NewNop())

	resp, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{
		Model:        "gemini-2.5-flash",
		SystemPrompt: "be brief",
		Messages:     []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
		Tools:        []providers.ToolDeclaration{{Name: "lookup"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, 1_100_000, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.30+0.25, resp.CostUSD, 1e-9)

	assert.Equal(t, "gemini-2.5-flash", gen.model)
	assert.True(t, gen.deadline)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "be brief", gen.config.SystemInstruction.Parts[0].Text)
	require.Len(t, gen.config.Tools, 1)
}

func TestAdapter_GenerateContent_SkipsThoughtsAndCollectsCalls(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Answer"},
				{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}}},
			}},
		}},
	}}
	adapter := newAdapter(providers.ProviderConfig{}, gen, nil)

	resp, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{
		Model:    "unpriced-model",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "q"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Answer", resp.Text)
	require.Len(t, resp.FunctionCalls, 1)
	assert.Equal(t, "lookup", resp.FunctionCalls[0].Name)
	assert.Zero(t, resp.CostUSD)
	assert.False(t, gen.deadline)
}

func TestAdapter_GenerateContent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		gen      *fakeGenerator
		req      *providers.GenerateRequest
		expected providers.ErrorKind
	}{
		{
			name:     "quota exceeded",
			gen:      &fakeGenerator{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}},
			expected: providers.KindQuotaExceeded,
		},
		{
			name:     "service unavailable",
			gen:      &fakeGenerator{err: genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}},
			expected: providers.KindServiceUnavailable,
		},
		{
			name:     "invalid argument",
			gen:      &fakeGenerator{err: genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"}},
			expected: providers.KindMalformedRequest,
		},
		{
			name:     "deadline",
			gen:      &fakeGenerator{err: context.DeadlineExceeded},
			expected: providers.KindServiceUnavailable,
		},
		{
			name:     "other",
			gen:      &fakeGenerator{err: errors.New("boom")},
			expected: providers.KindUnknown,
		},
		{
			name:     "empty candidates",
			gen:      &fakeGenerator{resp: &genai.GenerateContentResponse{}},
			expected: providers.KindUnknown,
		},
		{
			name: "blocked prompt",
			gen: &fakeGenerator{resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
			}},
			expected: providers.KindMalformedRequest,
		},
		{
			name:     "missing model",
			gen:      &fakeGenerator{},
			req:      &providers.GenerateRequest{Messages: []providers.Message{{Role: providers.RoleUser, Content: "q"}}},
			expected: providers.KindMalformedRequest,
		},
		{
			name:     "no content",
			gen:      &fakeGenerator{},
			req:      &providers.GenerateRequest{Model: "gemini-2.5-pro"},
			expected: providers.KindMalformedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newAdapter(providers.ProviderConfig{}, tt.gen, zap.NewNop())
			req := tt.req
			if req == nil {
				req = &providers.GenerateRequest{
					Model:    "gemini-2.5-pro",
					Messages: []providers.Message{{Role: providers.RoleUser, Content: "q"}},
				}
			}

			_, err := adapter.GenerateContent(context.Background(), req)

			require.Error(t, err)
			var provErr *providers.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.expected, provErr.Kind)
			assert.Equal(t, "gemini", provErr.Provider)
		})
	}
}
