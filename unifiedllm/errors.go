package unifiedllm

import (
	"errors"
	"fmt"
)

// ErrorClass is the retry classification of a failed completion attempt.
type ErrorClass int

const (
	// ClassUnknown errors are neither known-transient nor known-fatal. They
	// are propagated to the caller unchanged.
	ClassUnknown ErrorClass = iota
	ClassRetryable
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// classified is implemented by every error type that knows its own class.
type classified interface {
	error
	errorClass() ErrorClass
}

// Classify returns the class of the first error in err's chain that has one.
func Classify(err error) ErrorClass {
	var c classified
	if errors.As(err, &c) {
		return c.errorClass()
	}
	return ClassUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool { return Classify(err) == ClassRetryable }

// SDKError is the base of every error this package produces. On its own it
// carries no class.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *SDKError) Unwrap() error { return e.Cause }

// ProviderError is a failure reported by a provider. Its class follows
// Retryable unless the concrete type says otherwise.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64 // seconds
	Raw        map[string]any
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%t)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) errorClass() ErrorClass {
	if e.Retryable {
		return ClassRetryable
	}
	return ClassFatal
}

type (
	AuthenticationError struct{ ProviderError }
	AccessDeniedError   struct{ ProviderError }
	NotFoundError       struct{ ProviderError }
	InvalidRequestError struct{ ProviderError }
	ContentFilterError  struct{ ProviderError }
	ContextLengthError  struct{ ProviderError }
	QuotaExceededError  struct{ ProviderError }
	RateLimitError      struct{ ProviderError }
	ServerError         struct{ ProviderError }
)

func (e *RateLimitError) errorClass() ErrorClass { return ClassRetryable }
func (e *ServerError) errorClass() ErrorClass    { return ClassRetryable }

type (
	RequestTimeoutError struct{ SDKError }
	NetworkError        struct{ SDKError }
	ConfigurationError  struct{ SDKError }
)

// AbortError reports a request stopped by its context. It stays unclassified
// so retrying gives up immediately.
type AbortError struct{ SDKError }

func (e *RequestTimeoutError) errorClass() ErrorClass { return ClassRetryable }
func (e *NetworkError) errorClass() ErrorClass        { return ClassRetryable }
func (e *ConfigurationError) errorClass() ErrorClass  { return ClassFatal }

// TransientCallError is returned when a completion kept failing with
// retryable errors until the attempt budget ran out.
type TransientCallError struct {
	Attempts int
	Cause    error
}

func (e *TransientCallError) Error() string {
	return fmt.Sprintf("completion failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TransientCallError) Unwrap() error { return e.Cause }

// FatalCallError is returned when a completion failed with an error that
// retrying cannot fix. No retry was attempted.
type FatalCallError struct {
	Cause error
}

func (e *FatalCallError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Cause)
}

func (e *FatalCallError) Unwrap() error { return e.Cause }

// statusErrors maps HTTP statuses to error constructors. Statuses missing
// from the table become a retryable *ProviderError.
var statusErrors = map[int]func(ProviderError) error{
	400: func(pe ProviderError) error { return &InvalidRequestError{pe} },
	401: func(pe ProviderError) error { return &AuthenticationError{pe} },
	402: func(pe ProviderError) error { return &QuotaExceededError{pe} },
	403: func(pe ProviderError) error { return &AccessDeniedError{pe} },
	404: func(pe ProviderError) error { return &NotFoundError{pe} },
	408: func(pe ProviderError) error { return &RequestTimeoutError{pe.SDKError} },
	413: func(pe ProviderError) error { return &ContextLengthError{pe} },
	422: func(pe ProviderError) error { return &InvalidRequestError{pe} },
	429: func(pe ProviderError) error { return &RateLimitError{retryable(pe)} },
	500: func(pe ProviderError) error { return &ServerError{retryable(pe)} },
	502: func(pe ProviderError) error { return &ServerError{retryable(pe)} },
	503: func(pe ProviderError) error { return &ServerError{retryable(pe)} },
	504: func(pe ProviderError) error { return &ServerError{retryable(pe)} },
}

// ErrorFromStatusCode builds the error for a failed HTTP call to provider.
func ErrorFromStatusCode(status int, message, provider, code string, raw map[string]any, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: status,
		ErrorCode:  code,
		RetryAfter: retryAfter,
		Raw:        raw,
	}
	if build, ok := statusErrors[status]; ok {
		return build(pe)
	}
	pe = retryable(pe)
	return &pe
}

func retryable(pe ProviderError) ProviderError {
	pe.Retryable = true
	return pe
}
