package errors

import (
	"time"

	"github.com/labstack/echo/v4"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Success     bool        `json:"success"`
	ErrorDetail ErrorDetail `json:"error"`
	Timestamp   time.Time   `json:"timestamp"`
	RequestID   string      `json:"request_id,omitempty"`
}

// ErrorDetail contains detailed error information
type ErrorDetail struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ErrorResponse) Error() string {
	return e.ErrorDetail.Message
}

// GetRequestID extracts request ID from Echo context
func GetRequestID(c echo.Context) string {
	if reqID, ok := c.Get("request_id").(string); ok && reqID != "" {
		return reqID
	}
	if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
		return reqID
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

// NewResponse creates a new error response with the given code and message
func NewResponse(code ErrorCode, message string) *ErrorResponse {
	if message == "" {
		message = code.Message()
	}
	return &ErrorResponse{
		ErrorDetail: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// ResponseFrom converts any error into an error response. Runtime errors
// keep their code and details; anything else becomes an internal error.
func ResponseFrom(err error) *ErrorResponse {
	var re *Error
	if As(err, &re) {
		resp := NewResponse(re.Code, "")
		for k, v := range re.Details {
			if cause, ok := v.(error); ok {
				v = cause.Error()
			}
			resp.WithDetail(k, v)
		}
		return resp
	}
	return NewResponse(CodeInternal, "").WithDetail("error", err.Error())
}

// WithDetail adds a single detail to the error response
func (e *ErrorResponse) WithDetail(key string, value any) *ErrorResponse {
	if e.ErrorDetail.Details == nil {
		e.ErrorDetail.Details = make(map[string]any)
	}
	e.ErrorDetail.Details[key] = value
	return e
}

// Send sends the error response via Echo context
func (e *ErrorResponse) Send(c echo.Context, httpStatus int) error {
	if e.RequestID == "" {
		e.RequestID = GetRequestID(c)
	}
	return c.JSON(httpStatus, e)
}
