package reliability

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies a provider failure for retry policy decisions.
type Category string

const (
	// CategoryAuth marks invalid or missing credentials. Never retried.
	CategoryAuth Category = "auth"
	// CategoryInvalidRequest marks a malformed request. Never retried.
	CategoryInvalidRequest Category = "invalid_request"
	// CategoryQuota marks rate-limit or quota exhaustion. Retried up to budget.
	CategoryQuota Category = "quota"
	// CategoryTransient marks timeouts, network faults and 5xx responses.
	// Retried up to budget.
	CategoryTransient Category = "transient"
	// CategoryEmptyResult marks a successful call that returned no content.
	// A content problem, not a transport problem; never retried.
	CategoryEmptyResult Category = "empty_result"
)

// ProviderError wraps a provider failure with its retry classification.
type ProviderError struct {
	Provider string
	Category Category
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider %s error: %v", e.Provider, e.Category, e.Err)
	}
	return fmt.Sprintf("%s provider %s error", e.Provider, e.Category)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Retryable() bool {
	switch e.Category {
	case CategoryQuota, CategoryTransient:
		return true
	default:
		return false
	}
}

// UserMessage is the short, non-technical text surfaced to clients.
// Raw provider detail stays in server logs.
func (e *ProviderError) UserMessage() string {
	switch e.Category {
	case CategoryAuth:
		return "invalid provider credentials"
	case CategoryInvalidRequest:
		return "request rejected by provider"
	case CategoryQuota:
		return "provider quota exceeded, try again later"
	case CategoryEmptyResult:
		return "empty response from model"
	default:
		return "model temporarily unavailable"
	}
}

// NewProviderError builds a classified provider failure.
func NewProviderError(provider string, category Category, err error) *ProviderError {
	return &ProviderError{Provider: provider, Category: category, Err: err}
}

// ClassifyHTTPStatus maps a provider HTTP status code to a failure category.
func ClassifyHTTPStatus(code int) Category {
	switch {
	case code == 401 || code == 403:
		return CategoryAuth
	case code == 429:
		return CategoryQuota
	case code >= 500:
		return CategoryTransient
	default:
		return CategoryInvalidRequest
	}
}

// FromHTTPStatus builds a ProviderError from a non-2xx provider response.
func FromHTTPStatus(provider string, code int, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: ClassifyHTTPStatus(code),
		Status:   code,
		Err:      err,
	}
}

// Classify normalizes an arbitrary adapter error into a ProviderError.
// Context expiry counts as transient: a timed-out call is a provider
// failure, not a silent hang.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Category: CategoryTransient, Err: err}
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	// Unclassified failures are treated as transient.
	return true
}

// LinearBackoff computes the delay before retry attempt n (1-based):
// attempt index times the base unit.
func LinearBackoff(attempt int, unit time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(attempt) * unit
}
