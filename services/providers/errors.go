package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the closed set of failure classes a backend can surface
type ErrorKind string

const (
	KindQuotaExceeded      ErrorKind = "quota_exceeded"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindMalformedRequest   ErrorKind = "malformed_request"
	KindUnknown            ErrorKind = "unknown"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Kind classifies the failure
	Kind ErrorKind

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error

	// CostUSD is what the provider billed for a call that still failed
	CostUSD float64
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, kind ErrorKind, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// KindFromStatus maps an HTTP status code to an error kind
func KindFromStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case statusCode == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusNotFound,
		statusCode == http.StatusUnprocessableEntity,
		statusCode == http.StatusRequestEntityTooLarge:
		return KindMalformedRequest
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

// Classify translates any error into a *ProviderError. Errors that are
// already classified pass through; timeouts and network errors become
// service_unavailable and everything else becomes unknown.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(provider, KindServiceUnavailable, "request timed out", 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewProviderError(provider, KindServiceUnavailable, "network error", 0, err)
	}

	return NewProviderError(provider, KindUnknown, "invocation failed", 0, err)
}

// KindOf returns the error kind of err after classification
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Classify("", err).Kind
}

// CostOf returns the billed cost carried by err, or 0
func CostOf(err error) float64 {
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.CostUSD > 0 {
		return provErr.CostUSD
	}
	return 0
}
