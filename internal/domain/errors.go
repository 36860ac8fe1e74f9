package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so retry decisions are a switch, not a type hierarchy.
type ErrorKind string

const (
	ErrKindConfig           ErrorKind = "config_error"
	ErrKindRateLimited      ErrorKind = "rate_limit_exceeded"
	ErrKindVendorHTTP       ErrorKind = "vendor_http_error"
	ErrKindResponseParse    ErrorKind = "response_parse_error"
	ErrKindPricingMissing   ErrorKind = "pricing_missing"
	ErrKindProcessingFailed ErrorKind = "processing_failed"
	// ErrKindUnavailable covers our own dependencies (object storage, the
	// shared limiter store) failing transiently.
	ErrKindUnavailable ErrorKind = "dependency_unavailable"
)

var (
	ErrNoProvider      = errors.New("no enabled provider configured")
	ErrMissingAPIKey   = errors.New("missing api key")
	ErrNoPricingData   = errors.New("no pricing data for model")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrJobInFlight     = errors.New("job already processing")
	ErrJobNotFound     = errors.New("job not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrInvalidStatus   = errors.New("invalid status transition")
	ErrDuplicateJob    = errors.New("open job already exists for subject and language")

	ErrStorageUnavailable = errors.New("object storage unavailable")
)

// ProcessingError is the error returned across the provider boundary.
type ProcessingError struct {
	Kind       ErrorKind
	Provider   ProviderName
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProcessingError) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (HTTP %d)", prefix, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the same vendor may succeed on a later attempt.
func (e *ProcessingError) Retryable() bool {
	switch e.Kind {
	case ErrKindVendorHTTP, ErrKindResponseParse, ErrKindUnavailable:
		return true
	}
	return false
}

// NewProcessingError builds a ProcessingError.
func NewProcessingError(kind ErrorKind, provider ProviderName, message string, cause error) *ProcessingError {
	return &ProcessingError{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind of err. Unclassified errors count as processing failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrNoProvider), errors.Is(err, ErrMissingAPIKey):
		return ErrKindConfig
	case errors.Is(err, ErrNoPricingData):
		return ErrKindPricingMissing
	case errors.Is(err, ErrRateLimited):
		return ErrKindRateLimited
	case errors.Is(err, ErrStorageUnavailable):
		return ErrKindUnavailable
	}
	return ErrKindProcessingFailed
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return errors.Is(err, ErrStorageUnavailable)
}
