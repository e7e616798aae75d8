package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

// ChatSession is a standing conversation bound to one backend. It is meant
// for a single interactive thread.
type ChatSession struct {
	gateway *Gateway
	backend routing.BackendID
	tier    routing.Tier

	// SystemPrompt is sent with every turn when non-empty
	SystemPrompt string

	mu      sync.Mutex
	history []providers.Message
}

// BuildSession creates a session on the head backend of tier. It never
// fails: it returns nil when the gateway has no reachable backend.
func (g *Gateway) BuildSession(history any, tier routing.Tier) *ChatSession {
	if !g.available {
		return nil
	}

	head := g.resolver.Head(tier)
	if head == "" {
		return nil
	}
	if _, err := g.backends.Get(head); err != nil {
		g.logger.Warn("session head backend not configured", zap.String("backend", string(head)))
		return nil
	}

	return &ChatSession{
		gateway: g,
		backend: head,
		tier:    tier,
		history: NormalizeHistory(history),
	}
}

// Backend returns the backend the session talks to
func (s *ChatSession) Backend() routing.BackendID {
	return s.backend
}

// History returns a copy of the normalized turns
func (s *ChatSession) History() []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]providers.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Send sends message on the session's backend without cascading. Turns are
// appended to the history only on success.
func (s *ChatSession) Send(ctx context.Context, message string) (*InvocationResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]providers.Message, 0, len(s.history)+1)
	turns = append(turns, s.history...)
	turns = append(turns, providers.Message{Role: providers.RoleUser, Content: message})

	g := s.gateway
	resp, model, err := g.invokeBackend(ctx, s.backend, &providers.GenerateRequest{
		SystemPrompt: s.SystemPrompt,
		Messages:     turns,
		Tools:        g.ToolDeclarations(),
	})
	if err != nil {
		g.breakers.RecordFailure(s.backend)
		g.logger.Warn("chat session send failed",
			zap.String("backend", string(s.backend)),
			zap.String("model", model),
			zap.Error(err))
		return nil, err
	}
	g.breakers.RecordSuccess(s.backend)

	s.history = append(turns, providers.Message{Role: providers.RoleAssistant, Content: resp.Text})

	return &InvocationResult{
		Text:          resp.Text,
		BackendUsed:   s.backend,
		Model:         resp.Model,
		CostUSD:       resp.CostUSD,
		TotalCostUSD:  resp.CostUSD,
		AttemptDepth:  1,
		FunctionCalls: resp.FunctionCalls,
		Raw:           resp.Raw,
	}, nil
}

// NormalizeHistory converts loosely typed history into ordered turns.
// Accepted inputs are []providers.Message, []map[string]any and []any of
// maps or messages. Entries without a user/assistant role and string content
// are dropped; "model" is read as assistant. Anything else yields no turns.
func NormalizeHistory(raw any) []providers.Message {
	var items []any
	switch v := raw.(type) {
	case []providers.Message:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []map[string]any:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []any:
		items = v
	default:
		return []providers.Message{}
	}

	out := make([]providers.Message, 0, len(items))
	for _, item := range items {
		var role, content string
		switch e := item.(type) {
		case providers.Message:
			role, content = e.Role, e.Content
		case map[string]any:
			r, ok1 := e["role"].(string)
			c, ok2 := e["content"].(string)
			if !ok1 || !ok2 {
				continue
			}
			role, content = r, c
		default:
			continue
		}

		role = normalizeRole(role)
		if role == "" || content == "" {
			continue
		}
		out = append(out, providers.Message{Role: role, Content: content})
	}
	return out
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case providers.RoleUser:
		return providers.RoleUser
	case providers.RoleAssistant, "model":
		return providers.RoleAssistant
	default:
		return ""
	}
}
