package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

// ErrorHandler returns an echo.HTTPErrorHandler rendering every error as
// the standard JSON error response. Runtime errors keep their code; echo
// HTTP errors map onto the closest code.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var resp *swerrors.ErrorResponse
		var status int
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			resp = swerrors.NewResponse(codeForStatus(he.Code), messageOf(he))
		default:
			status = swerrors.HTTPStatus(err)
			resp = swerrors.ResponseFrom(err)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.Error(err), zap.String("request_id", GetRequestID(c)))
		}

		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(status)
		} else {
			sendErr = resp.Send(c, status)
		}
		if sendErr != nil {
			logger.Error("failed to send error response", zap.Error(sendErr))
		}
	}
}

func codeForStatus(status int) swerrors.ErrorCode {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return swerrors.CodeUnauthorized
	case http.StatusTooManyRequests:
		return swerrors.CodeRateLimitExceeded
	}
	if status >= 400 && status < 500 {
		return swerrors.CodeInvalidInput
	}
	return swerrors.CodeInternal
}

func messageOf(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return http.StatusText(he.Code)
}
