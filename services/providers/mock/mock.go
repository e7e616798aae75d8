// Package mock provides scripted providers for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/tiered-gateway/services/providers"
)

// ErrNoScript is returned when a model has no scripted outcome
var ErrNoScript = errors.New("mock: no scripted outcome")

// Outcome is one scripted result. Exactly one of Response or Err should be set.
type Outcome struct {
	Response *providers.GenerateResponse
	Err      error
}

// Reply scripts a successful response
func Reply(text string, costUSD float64) Outcome {
	return Outcome{Response: &providers.GenerateResponse{Text: text, CostUSD: costUSD}}
}

// Fail scripts an error
func Fail(err error) Outcome {
	return Outcome{Err: err}
}

// Provider is a scripted primary provider. Outcomes are keyed by model; the
// last outcome for a model repeats once the queue is drained.
type Provider struct {
	name string

	mu       sync.Mutex
	outcomes map[string][]Outcome
	calls    []providers.GenerateRequest
}

// NewProvider creates a scripted provider
func NewProvider(name string) *Provider {
	return &Provider{
		name:     name,
		outcomes: make(map[string][]Outcome),
	}
}

// On scripts outcomes for model
func (p *Provider) On(model string, outcomes ...Outcome) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outcomes[model] = append(p.outcomes[model], outcomes...)
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GenerateContent(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, *req)
	queue := p.outcomes[req.Model]
	var out Outcome
	switch len(queue) {
	case 0:
		p.mu.Unlock()
		return nil, ErrNoScript
	case 1:
		out = queue[0]
	default:
		out = queue[0]
		p.outcomes[req.Model] = queue[1:]
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}

	resp := *out.Response
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Calls returns a copy of every request received
func (p *Provider) Calls() []providers.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]providers.GenerateRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsFor returns the requests received for model
func (p *Provider) CallsFor(model string) []providers.GenerateRequest {
	var out []providers.GenerateRequest
	for _, c := range p.Calls() {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

// Secondary is a scripted secondary provider
type Secondary struct {
	mu       sync.Mutex
	result   *providers.Completion
	err      error
	messages [][]providers.Message
}

// NewSecondary creates a secondary provider that returns content
func NewSecondary(content, model string) *Secondary {
	return &Secondary{result: &providers.Completion{Content: content, ModelName: model}}
}

// NewFailingSecondary creates a secondary provider that always fails
func NewFailingSecondary(err error) *Secondary {
	return &Secondary{err: err}
}

func (s *Secondary) Name() string { return "mock-secondary" }

func (s *Secondary) Complete(ctx context.Context, messages []providers.Message) (*providers.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, append([]providers.Message(nil), messages...))
	if s.err != nil {
		return nil, s.err
	}
	c := *s.result
	return &c, nil
}

// Calls returns the message lists received, one per call
func (s *Secondary) Calls() [][]providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]providers.Message(nil), s.messages...)
}
