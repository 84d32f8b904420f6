package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Is and As forward to the standard library so callers importing this
// package under its own name keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

// As forwards to errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// SendError writes err as a standardized JSON error response, choosing the
// HTTP status from the error's code.
func SendError(c echo.Context, err error) error {
	return ResponseFrom(err).Send(c, HTTPStatus(err))
}

// BadRequest is a shorthand for invalid control API input
func BadRequest(c echo.Context, message string) error {
	return NewResponse(CodeInvalidInput, message).Send(c, http.StatusBadRequest)
}

// UnauthorizedError creates and sends an unauthorized error response
func UnauthorizedError(c echo.Context, message string) error {
	return NewResponse(CodeUnauthorized, message).Send(c, http.StatusUnauthorized)
}

// RateLimitError creates and sends a rate limit exceeded error response
func RateLimitError(c echo.Context, retryAfter int) error {
	c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	return NewResponse(CodeRateLimitExceeded, "").
		WithDetail("retry_after", retryAfter).
		Send(c, http.StatusTooManyRequests)
}
