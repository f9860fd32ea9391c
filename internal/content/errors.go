package content

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure. The routing layer catches every
// provider and validator error and maps it onto exactly one of these; raw
// errors never propagate past that boundary.
type ErrorKind string

const (
	KindAuthError             ErrorKind = "auth_error"
	KindRateLimited           ErrorKind = "rate_limited"
	KindTimeout               ErrorKind = "timeout"
	KindProviderUnavailable   ErrorKind = "provider_unavailable"
	KindValidationFailed      ErrorKind = "validation_failed"
	KindAllProvidersExhausted ErrorKind = "all_providers_exhausted"
	KindCancelled             ErrorKind = "cancelled"
)

// Retryable reports whether the failure may be retried against another
// provider. Auth failures are fatal for the provider that produced them, and
// cancellation is terminal for the request.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindProviderUnavailable, KindValidationFailed:
		return true
	default:
		return false
	}
}

// Error is a classified generation error.
type Error struct {
	Kind       ErrorKind
	ProviderID string
	Err        error
}

func (e *Error) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("%s (provider %s): %v", e.Kind, e.ProviderID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification and the provider it came from.
func NewError(kind ErrorKind, providerID string, err error) *Error {
	return &Error{Kind: kind, ProviderID: providerID, Err: err}
}

// KindOf extracts the classification from err, or returns
// provider_unavailable for unclassified errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindProviderUnavailable
}
