package budget

import (
	"errors"
	"fmt"
)

// ErrInvalidLimit is returned for negative budget limits
var ErrInvalidLimit = errors.New("invalid budget limit")

// Limits are the configured per-request ceilings
type Limits struct {
	MaxCostUSD float64 `json:"max_cost_usd"`
	MaxDepth   int     `json:"max_depth"`
}

// DefaultLimits returns the standard per-request ceilings
func DefaultLimits() Limits {
	return Limits{
		MaxCostUSD: 0.50,
		MaxDepth:   3,
	}
}

// Validate checks that limits are usable
func (l Limits) Validate() error {
	if l.MaxCostUSD < 0 {
		return fmt.Errorf("%w: max_cost_usd must be >= 0, got %v", ErrInvalidLimit, l.MaxCostUSD)
	}
	if l.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be >= 0, got %d", ErrInvalidLimit, l.MaxDepth)
	}
	return nil
}

// Overrides replace configured limits for a single call. Nil fields keep the
// configured value.
type Overrides struct {
	MaxCostUSD *float64
	MaxDepth   *int
}

// Apply returns limits with any overrides applied
func (o Overrides) Apply(l Limits) Limits {
	if o.MaxCostUSD != nil {
		l.MaxCostUSD = *o.MaxCostUSD
	}
	if o.MaxDepth != nil {
		l.MaxDepth = *o.MaxDepth
	}
	return l
}

// RequestBudget tracks cost and attempt depth for one dispatch. It belongs to
// a single request's call stack and is not safe for concurrent use.
type RequestBudget struct {
	CumulativeCostUSD float64 `json:"cumulative_cost_usd"`
	AttemptDepth      int     `json:"attempt_depth"`
	MaxCostUSD        float64 `json:"max_cost_usd"`
	MaxDepth          int     `json:"max_depth"`
}

// NewRequestBudget creates a fresh budget from configured limits and optional overrides
func NewRequestBudget(limits Limits, overrides Overrides) *RequestBudget {
	l := overrides.Apply(limits)
	return &RequestBudget{
		MaxCostUSD: l.MaxCostUSD,
		MaxDepth:   l.MaxDepth,
	}
}

// Exhausted reports whether no further attempt may be made
func (b *RequestBudget) Exhausted() bool {
	return b.CumulativeCostUSD >= b.MaxCostUSD || b.AttemptDepth >= b.MaxDepth
}

// Reason describes which ceiling was hit, or "" when the budget is not exhausted
func (b *RequestBudget) Reason() string {
	switch {
	case b.AttemptDepth >= b.MaxDepth:
		return fmt.Sprintf("attempt depth %d reached max_depth %d", b.AttemptDepth, b.MaxDepth)
	case b.CumulativeCostUSD >= b.MaxCostUSD:
		return fmt.Sprintf("cost %.4f USD reached max_cost_usd %.4f", b.CumulativeCostUSD, b.MaxCostUSD)
	default:
		return ""
	}
}

// RecordAttempt accounts for one backend attempt. Failed attempts pass a zero cost.
// Negative costs are ignored.
func (b *RequestBudget) RecordAttempt(costUSD float64) {
	if costUSD > 0 {
		b.CumulativeCostUSD += costUSD
	}
	b.AttemptDepth++
}
