package imagegen

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a backend failure. The selector and orchestrator act on
// the kind, never on raw transport errors.
type Kind int

const (
	KindTransient Kind = iota
	KindConfiguration
	KindRejected
	KindRateLimited
	KindQuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRejected:
		return "rejected_content"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "transient"
	}
}

// Sentinels for errors.Is. RateLimited and QuotaExceeded errors also match
// ErrTransient: they fall back like any other transient failure.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrRejected      = errors.New("content rejected")
	ErrTransient     = errors.New("transient service error")
	ErrRateLimited   = errors.New("rate limited")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// BackendError is the classified failure returned by adapters and the poller.
type BackendError struct {
	Kind    Kind
	Backend string
	Message string
	// Remediation is user-facing advice, set for configuration, rate limit
	// and quota failures.
	Remediation string
	Err         error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("imagegen: %s %s: %s", e.Backend, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrTransient:
		return e.Kind == KindTransient || e.Kind == KindRateLimited || e.Kind == KindQuotaExceeded
	}
	return false
}

// NewConfigurationError reports a missing or placeholder credential.
func NewConfigurationError(backend, message, remediation string) *BackendError {
	return &BackendError{Kind: KindConfiguration, Backend: backend, Message: message, Remediation: remediation}
}

// NewRejectedError reports a policy refusal of the prompt.
func NewRejectedError(backend, message string) *BackendError {
	return &BackendError{Kind: KindRejected, Backend: backend, Message: message}
}

// NewTransientError reports a network, server, timeout or malformed-response failure.
func NewTransientError(backend, message string, cause error) *BackendError {
	return &BackendError{Kind: KindTransient, Backend: backend, Message: message, Err: cause}
}

// NewRateLimitedError reports a 429-style refusal.
func NewRateLimitedError(backend string, cause error) *BackendError {
	return &BackendError{
		Kind:        KindRateLimited,
		Backend:     backend,
		Message:     "too many requests",
		Remediation: fmt.Sprintf("%s is rate limiting requests; wait a moment before submitting more prompts", backend),
		Err:         cause,
	}
}

// NewQuotaExceededError reports an exhausted account balance or quota.
func NewQuotaExceededError(backend string, cause error) *BackendError {
	return &BackendError{
		Kind:        KindQuotaExceeded,
		Backend:     backend,
		Message:     "quota exhausted",
		Remediation: fmt.Sprintf("%s reports the account quota is exhausted; check billing or move it down SERVICE_PRIORITY", backend),
		Err:         cause,
	}
}

// Classify returns the kind of err. Errors that were never classified are
// treated as transient.
func Classify(err error) Kind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

// AsBackendError returns err as a *BackendError, wrapping unclassified
// errors as transient failures of backend.
func AsBackendError(backend string, err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(backend, "request cancelled", err)
	}
	return NewTransientError(backend, "unclassified failure", err)
}

// Remediation returns the user-facing advice attached to err, if any.
func Remediation(err error) string {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Remediation
	}
	return ""
}

// surfaced reports whether a failure must be shown to the user even when a
// later backend succeeds.
func surfaced(k Kind) bool {
	return k == KindConfiguration || k == KindRateLimited || k == KindQuotaExceeded
}
