package dispatch

import (
	"context"
	"time"

	"github.com/upb/tiered-gateway/models"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

// DispatchRequest is one inbound generation request
type DispatchRequest struct {
	Message      string
	Tier         routing.Tier
	SystemPrompt string
	EnableTools  bool
	History      []providers.Message
	Images       []providers.ImageAttachment
	Budget       budget.Overrides

	// RequestID correlates logs and the dispatch ledger
	RequestID string
}

// NewDispatchRequest returns a request with tools enabled
func NewDispatchRequest(message string, tier routing.Tier) DispatchRequest {
	return DispatchRequest{
		Message:     message,
		Tier:        tier,
		EnableTools: true,
	}
}

// InvocationResult is the outcome of a successful dispatch. Its shape does
// not depend on which backend served it.
type InvocationResult struct {
	Text          string                   `json:"text"`
	BackendUsed   routing.BackendID        `json:"backend_used"`
	Model         string                   `json:"model"`
	CostUSD       float64                  `json:"cost_usd"`
	TotalCostUSD  float64                  `json:"total_cost_usd"`
	AttemptDepth  int                      `json:"attempt_depth"`
	FunctionCalls []providers.FunctionCall `json:"function_calls,omitempty"`
	Attempts      []AttemptRecord          `json:"attempts,omitempty"`
	Raw           any                      `json:"-"`
}

// Dispatch walks the tier's chain until a backend succeeds, then falls back
// to the secondary provider exactly once. Each backend is tried at most once.
func (g *Gateway) Dispatch(ctx context.Context, req DispatchRequest) (*InvocationResult, error) {
	start := time.Now()
	logger := g.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("tier", req.Tier.String()))

	chain := g.resolver.Resolve(req.Tier)
	b := budget.NewRequestBudget(g.limits, req.Budget)

	var tools []providers.ToolDeclaration
	if req.EnableTools {
		tools = g.ToolDeclarations()
	}

	turns := make([]providers.Message, 0, len(req.History)+1)
	turns = append(turns, req.History...)
	turns = append(turns, providers.Message{Role: providers.RoleUser, Content: req.Message})

	genReq := &providers.GenerateRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     turns,
		Tools:        tools,
		Images:       req.Images,
	}

	attempts := make([]AttemptRecord, 0, len(chain))
	budgetReason := ""

	if !g.available {
		logger.Debug("no primary backend available, going straight to secondary")
		chain = nil
	}

	for i, id := range chain {
		if g.breakers.IsOpen(id) {
			logger.Debug("skipping backend with open breaker", zap.String("backend", string(id)))
			attempts = append(attempts, AttemptRecord{Backend: id, Outcome: OutcomeBreakerOpen})
			continue
		}

		if b.Exhausted() {
			budgetReason = b.Reason()
			logger.Info("request budget exhausted, aborting chain",
				zap.String("reason", budgetReason),
				zap.Int("remaining", len(chain)-i))
			for _, rest := range chain[i:] {
				attempts = append(attempts, AttemptRecord{Backend: rest, Outcome: OutcomeNotReached})
			}
			break
		}

		resp, model, err := g.invokeBackend(ctx, id, genReq)
		if err != nil {
			g.breakers.RecordFailure(id)
			cost := providers.CostOf(err)
			b.RecordAttempt(cost)

			kind := providers.KindOf(err)
			logger.Warn("backend attempt failed",
				zap.String("backend", string(id)),
				zap.String("model", model),
				zap.String("error_kind", string(kind)),
				zap.Error(err))
			attempts = append(attempts, AttemptRecord{
				Backend: id,
				Model:   model,
				Outcome: OutcomeFailed,
				Kind:    kind,
				Error:   err.Error(),
				CostUSD: cost,
			})
			continue
		}

		g.breakers.RecordSuccess(id)
		b.RecordAttempt(resp.CostUSD)
		attempts = append(attempts, AttemptRecord{
			Backend: id,
			Model:   resp.Model,
			Outcome: OutcomeSucceeded,
			CostUSD: resp.CostUSD,
		})

		result := &InvocationResult{
			Text:          resp.Text,
			BackendUsed:   id,
			Model:         resp.Model,
			CostUSD:       resp.CostUSD,
			TotalCostUSD:  b.CumulativeCostUSD,
			AttemptDepth:  b.AttemptDepth,
			FunctionCalls: resp.FunctionCalls,
			Attempts:      attempts,
			Raw:           resp.Raw,
		}

		logger.Info("dispatch succeeded",
			zap.String("backend", string(id)),
			zap.String("model", resp.Model),
			zap.Int("attempt_depth", b.AttemptDepth),
			zap.Float64("cost_usd", resp.CostUSD))
		g.record(req, start, models.DispatchStatusSucceeded, result, attempts, nil)
		return result, nil
	}

	secondaryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.backendTimeout)
	completion, err := g.secondary.Invoke(secondaryCtx, turns, req.SystemPrompt)
	cancel()
	if err != nil {
		exhausted := &AllBackendsExhaustedError{
			Tier:         req.Tier,
			Attempts:     attempts,
			BudgetReason: budgetReason,
			Secondary:    err,
		}
		logger.Error("all backends exhausted",
			zap.Int("attempts", len(attempts)),
			zap.Int("attempt_depth", b.AttemptDepth),
			zap.Error(exhausted))
		g.record(req, start, models.DispatchStatusExhausted, nil, attempts, exhausted)
		return nil, exhausted
	}

	result := &InvocationResult{
		Text:         completion.Content,
		BackendUsed:  FallbackBackendID,
		Model:        completion.ModelName,
		CostUSD:      completion.CostUSD,
		TotalCostUSD: b.CumulativeCostUSD + completion.CostUSD,
		AttemptDepth: b.AttemptDepth,
		Attempts:     attempts,
		Raw:          completion,
	}

	logger.Info("dispatch served by secondary provider",
		zap.String("model", completion.ModelName),
		zap.Int("primary_attempts", b.AttemptDepth),
		zap.String("budget_reason", budgetReason))
	g.record(req, start, models.DispatchStatusFallback, result, attempts, nil)
	return result, nil
}

func (g *Gateway) record(req DispatchRequest, start time.Time, status models.DispatchStatus, result *InvocationResult, attempts []AttemptRecord, err error) {
	rec := models.NewDispatchRecord(req.RequestID, req.Tier.String(), status).WithAttempts(attempts)
	rec.LatencyMs = int(time.Since(start).Milliseconds())
	if result != nil {
		rec.WithBackend(string(result.BackendUsed), result.Model)
		rec.CostUSD = result.TotalCostUSD
		rec.AttemptDepth = result.AttemptDepth
	}
	if err != nil {
		rec.WithError(err.Error())
		rec.AttemptDepth = countFailed(attempts)
	}
	g.recorder.Record(rec)
}

func countFailed(attempts []AttemptRecord) int {
	n := 0
	for _, a := range attempts {
		if a.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}
