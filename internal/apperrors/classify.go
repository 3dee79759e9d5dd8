package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// StatusError is returned by transport operations when the remote solver
// answers with a non-success HTTP status. Carrying the status code lets
// Classify map by code instead of guessing from message text.
type StatusError struct {
	StatusCode int
	Op         string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// Classify maps an arbitrary error into the solver failure taxonomy.
//
// Errors already carrying a sentinel pass through untouched. HTTP status
// codes are preferred; substring matching is the fallback for transport-level
// failures where the upstream service gives us nothing structured.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) && appErr.Sentinel != nil {
		return appErr
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return &Error{
			Sentinel: sentinelForStatus(statusErr.StatusCode),
			Message:  statusErr.Error(),
			Op:       statusErr.Op,
			Cause:    err,
		}
	}

	return &Error{
		Sentinel: sentinelForMessage(err),
		Message:  err.Error(),
		Cause:    err,
	}
}

func sentinelForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code >= 500:
		return ErrServer
	default:
		return ErrUnknown
	}
}

func sentinelForMessage(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "aborted",
		"connection refused", "connection reset", "no such host", "broken pipe",
		"network", "eof"):
		return ErrNetwork
	case containsAny(msg, "unauthorized", "forbidden", "invalid api key",
		"invalid apikey", "no session", "session expired", "authentication"):
		return ErrAuth
	case containsAny(msg, "not found"):
		return ErrNotFound
	case containsAny(msg, "rate limit", "too many requests"):
		return ErrRateLimit
	default:
		return ErrUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether an error should be retried by the transport's
// read-call retry policy. Only network-class failures qualify; auth,
// not-found, rate-limit and server errors surface immediately.
func IsRetryable(err error) bool {
	return errors.Is(Classify(err), ErrNetwork)
}
