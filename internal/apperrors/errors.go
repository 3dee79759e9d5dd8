// Package apperrors provides structured application errors with a fixed
// classification taxonomy and HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
//
// The first six form the solver failure taxonomy: every error that crosses
// the orchestrator boundary is classified into exactly one of them.
// ErrValidation, ErrConflict and ErrConfig are local errors raised before any
// network call is made.
var (
	ErrAuth       = errors.New("authentication error")
	ErrNotFound   = errors.New("not found")
	ErrRateLimit  = errors.New("rate limited")
	ErrServer     = errors.New("server error")
	ErrNetwork    = errors.New("network error")
	ErrUnknown    = errors.New("unknown error")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrConfig     = errors.New("configuration error")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "id", "imageUrl")
	Resource string // For not found/conflict (e.g., "solve")
	Op       string // Operation that failed (e.g., "astrometry.login")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Code returns the taxonomy code string for the error's sentinel.
func (e *Error) Code() string {
	return codeOf(e.Sentinel)
}

func codeOf(sentinel error) string {
	switch sentinel {
	case ErrAuth:
		return "auth"
	case ErrNotFound:
		return "not_found"
	case ErrRateLimit:
		return "rate_limit"
	case ErrServer:
		return "server"
	case ErrNetwork:
		return "network"
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Auth creates an authentication error.
func Auth(op, message string) error {
	return &Error{
		Sentinel: ErrAuth,
		Message:  message,
		Op:       op,
	}
}

// Network creates a network error wrapping an underlying cause.
func Network(op string, cause error) error {
	return &Error{
		Sentinel: ErrNetwork,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Timeout creates a network-classified error for an exhausted wait.
func Timeout(op, message string) error {
	return &Error{
		Sentinel: ErrNetwork,
		Message:  message,
		Op:       op,
	}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Config creates a configuration error.
func Config(message string) error {
	return &Error{
		Sentinel: ErrConfig,
		Message:  message,
	}
}

// Unknown creates an unclassified error wrapping an underlying cause.
func Unknown(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnknown,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
