package usecase

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"harborguide/internal/integrations/backend"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorUnavailable       ErrorCode = "UNAVAILABLE"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classify maps a backend call failure onto an Error whose Reason is short
// enough to show next to a fallback value.
func classify(err error) *Error {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr
	}
	if status, ok := upstreamStatusCode(err); ok {
		return newError(ErrorUpstream, fmt.Sprintf("backend returned HTTP %d", status), err)
	}
	switch {
	case errors.Is(err, backend.ErrMalformedResponse):
		return newError(ErrorMalformedResponse, "backend returned a malformed response", err)
	case errors.Is(err, backend.ErrInvalidBaseURL):
		return newError(ErrorInvalidInput, "invalid backend URL", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorUnavailable, "backend timed out", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorUnavailable, "request cancelled", err)
	default:
		return newError(ErrorUnavailable, "backend unreachable", err)
	}
}

var errBackendDown = newError(ErrorUnavailable, "backend health check failed", nil)
