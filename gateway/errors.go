package gateway

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Stable machine-readable error codes surfaced to clients.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	ErrNoOperation     = errors.New("gateway: request contains no executable operation")
	ErrSubscriptions   = errors.New("gateway: subscriptions are not supported")
	ErrUnroutableField = errors.New("gateway: no subgraph owns the requested field")
	ErrIntrospection   = errors.New("gateway: introspection is disabled")
)

// Error is a structured, client-visible GraphQL error. Code is stable
// across releases; Extensions carries hints such as retryAfter.
type Error struct {
	Message    string         `json:"message"`
	Code       string         `json:"-"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a coded error with no extensions beyond the code.
func NewError(code, message string) *Error {
	return &Error{Message: message, Code: code}
}

// RateLimited builds the structured denial for a rate-limit rejection.
// retryAfter is rounded up to whole seconds for the client hint.
func RateLimited(retryAfter time.Duration) *Error {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return &Error{
		Message:    "rate limit exceeded",
		Code:       CodeRateLimited,
		Extensions: map[string]any{"retryAfter": secs},
	}
}

// Format sanitizes err into the wire representation. Coded errors pass
// through intact. In production anything unclassified collapses to a
// generic internal error so internals never leak to clients; outside
// production the real message is preserved for debugging.
func Format(err error, production bool) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		out := &Error{Message: ge.Message, Code: ge.Code, Extensions: map[string]any{"code": ge.Code}}
		for k, v := range ge.Extensions {
			out.Extensions[k] = v
		}
		return out
	}
	if production {
		return &Error{
			Message:    "internal server error",
			Code:       CodeInternal,
			Extensions: map[string]any{"code": CodeInternal},
		}
	}
	return &Error{
		Message:    err.Error(),
		Code:       CodeInternal,
		Extensions: map[string]any{"code": CodeInternal},
	}
}
