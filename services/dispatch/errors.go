package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
)

var (
	// ErrAllBackendsExhausted matches *AllBackendsExhaustedError
	ErrAllBackendsExhausted = errors.New("all backends exhausted")

	// ErrSecondaryUnavailable matches *SecondaryProviderUnavailableError
	ErrSecondaryUnavailable = errors.New("secondary provider unavailable")
)

// AttemptOutcome describes what happened to one chain entry
type AttemptOutcome string

const (
	OutcomeFailed      AttemptOutcome = "failed"
	OutcomeBreakerOpen AttemptOutcome = "skipped_breaker_open"
	OutcomeNotReached  AttemptOutcome = "not_reached_budget"
	OutcomeSucceeded   AttemptOutcome = "succeeded"
)

// AttemptRecord is the fate of one backend during a dispatch
type AttemptRecord struct {
	Backend routing.BackendID   `json:"backend"`
	Model   string              `json:"model,omitempty"`
	Outcome AttemptOutcome      `json:"outcome"`
	Kind    providers.ErrorKind `json:"error_kind,omitempty"`
	Error   string              `json:"error,omitempty"`
	CostUSD float64             `json:"cost_usd,omitempty"`
}

// AllBackendsExhaustedError is returned when neither the chain nor the
// secondary provider produced a result
type AllBackendsExhaustedError struct {
	Tier         routing.Tier
	Attempts     []AttemptRecord
	BudgetReason string
	Secondary    error
}

func (e *AllBackendsExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all backends exhausted for tier %s", e.Tier)

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, a.Error))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, a.Outcome))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	if e.BudgetReason != "" {
		fmt.Fprintf(&b, " (budget: %s)", e.BudgetReason)
	}
	if e.Secondary != nil {
		fmt.Fprintf(&b, "; secondary: %v", e.Secondary)
	}
	return b.String()
}

// Is matches ErrAllBackendsExhausted
func (e *AllBackendsExhaustedError) Is(target error) bool {
	return target == ErrAllBackendsExhausted
}

// Unwrap exposes the secondary failure
func (e *AllBackendsExhaustedError) Unwrap() error {
	return e.Secondary
}

// SecondaryProviderUnavailableError is returned when the secondary client
// could not be built or its call failed
type SecondaryProviderUnavailableError struct {
	Reason string
	Cause  error
}

func (e *SecondaryProviderUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("secondary provider unavailable: %s: %v", e.Reason, e.Cause)
	}
	return "secondary provider unavailable: " + e.Reason
}

// Is matches ErrSecondaryUnavailable
func (e *SecondaryProviderUnavailableError) Is(target error) bool {
	return target == ErrSecondaryUnavailable
}

func (e *SecondaryProviderUnavailableError) Unwrap() error {
	return e.Cause
}
