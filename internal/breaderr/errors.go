// Package breaderr defines the typed error taxonomy shared across the
// breadcrumb runtime: record client calls, selector evaluation, context
// assembly and executor dispatch all classify failures into one of these
// kinds so retry policy and response status can be decided uniformly.
package breaderr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec §7. Use errors.Is against these,
// or Classify to recover a Kind from an arbitrary error returned by the
// record store transport.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrTransient       = errors.New("transient error")
	ErrFatal           = errors.New("fatal error")
	ErrTimeout         = errors.New("timed out")
	ErrValidation      = errors.New("validation failed")
)

// Kind categorizes an error for retry/propagation decisions.
type Kind string

const (
	KindUnauthorized    Kind = "unauthorized"
	KindVersionMismatch Kind = "version_mismatch"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindTransient       Kind = "transient"
	KindFatal           Kind = "fatal"
	KindTimeout         Kind = "timeout"
	KindValidation      Kind = "validation"
	KindUnknown         Kind = "unknown"
)

// Retryable reports whether the Record Client should retry an error of this
// kind with backoff. Only Transient and RateLimited are retried automatically;
// VersionMismatch follows its own refetch-and-retry-once policy instead.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with its classified Kind and an optional
// HTTP status code, mirroring the teacher's ToolError wrapping style.
type Error struct {
	Kind       Kind
	StatusCode int
	Op         string
	Cause      error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Cause)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is against the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrVersionMismatch:
		return e.Kind == KindVersionMismatch
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// New wraps cause with an explicit kind and operation label.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// FromStatusCode classifies an HTTP response status code into a Kind,
// following the Record Store HTTP surface in spec §6.1.
func FromStatusCode(code int) Kind {
	switch {
	case code == 401:
		return KindUnauthorized
	case code == 404 || code == 410:
		return KindNotFound
	case code == 409:
		return KindConflict
	case code == 412:
		return KindVersionMismatch
	case code == 400 || code == 422:
		return KindValidation
	case code == 429:
		return KindRateLimited
	case code >= 500:
		return KindTransient
	case code >= 200 && code < 300:
		return KindUnknown
	default:
		return KindFatal
	}
}

// Classify recovers a Kind from an arbitrary error, defaulting to KindFatal
// unless the error already carries a classification.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	return KindFatal
}
