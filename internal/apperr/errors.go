// Package apperr defines the error kinds shared across every PathMark
// subsystem. A single tagged struct replaces per-kind error types so the
// HTTP layer can switch on Kind without type assertions scattered through
// the codebase (orig spec "Dynamic dispatch" design note).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error categories. New kinds are added here, not
// by defining new error types elsewhere.
type Kind string

const (
	Validation                 Kind = "validation"
	InvalidCredential          Kind = "invalid_credential"
	Forbidden                  Kind = "forbidden"
	NotFound                   Kind = "not_found"
	Conflict                   Kind = "conflict"
	Gone                       Kind = "gone"
	RateLimitExceeded          Kind = "rate_limit_exceeded"
	Timeout                    Kind = "timeout"
	ExternalServiceUnavailable Kind = "external_service_unavailable"
	Internal                   Kind = "internal"
)

// Error is the single error type used across PathMark. Details carries
// field-level validation info or other structured context that the HTTP
// layer serializes verbatim under "details".
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewValidation(msg string, details map[string]any) *Error {
	return &Error{Kind: Validation, Message: msg, Details: details}
}

func NewInvalidCredential(msg string) *Error { return newErr(InvalidCredential, msg) }
func NewForbidden(msg string) *Error         { return newErr(Forbidden, msg) }
func NewNotFound(msg string) *Error          { return newErr(NotFound, msg) }
func NewConflict(msg string) *Error          { return newErr(Conflict, msg) }
func NewGone(msg string) *Error              { return newErr(Gone, msg) }
func NewInternal(msg string, cause error) *Error {
	return &Error{Kind: Internal, Message: msg, cause: cause}
}
func NewExternalUnavailable(msg string, cause error) *Error {
	return &Error{Kind: ExternalServiceUnavailable, Message: msg, cause: cause}
}
func NewTimeout(msg string) *Error { return newErr(Timeout, msg) }

// NewRateLimitExceeded attaches the caller-facing retry hint.
func NewRateLimitExceeded(retryAfterSeconds int) *Error {
	return &Error{
		Kind:    RateLimitExceeded,
		Message: "rate limit exceeded",
		Details: map[string]any{"retry_after_seconds": retryAfterSeconds},
	}
}

// As extracts an *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Internal for errors that
// did not originate from this package.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the HTTP status code used by the handler layer.
func HTTPStatus(k Kind) int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case InvalidCredential:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Gone:
		return http.StatusGone
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case ExternalServiceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the kebab-case error code placed in the response envelope.
func Code(k Kind) string {
	switch k {
	case Validation:
		return "validation-error"
	case InvalidCredential:
		return "invalid-credential"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case Gone:
		return "gone"
	case RateLimitExceeded:
		return "rate-limit-exceeded"
	case Timeout:
		return "timeout"
	case ExternalServiceUnavailable:
		return "external-service-unavailable"
	default:
		return "internal-error"
	}
}
