package errors

import (
	"encoding/json"
	"errors"
)

// Error is a runtime error: a code from the taxonomy plus a details payload
// that helps locate the misconfiguration or the failed request.
type Error struct {
	Code    ErrorCode
	Details map[string]any
}

// New creates a runtime error with the given details. A nil map is allowed.
func New(code ErrorCode, details map[string]any) *Error {
	return &Error{Code: code, Details: details}
}

// Error renders "code :: {details}" so that logs stay greppable by code.
func (e *Error) Error() string {
	msg := string(e.Code)
	if len(e.Details) > 0 {
		printable := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			printable[k] = v
		}
		if b, err := json.Marshal(printable); err == nil {
			msg += " :: " + string(b)
		}
	}
	return msg
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, &Error{Code: CodeNoResponse}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap exposes a wrapped cause stored under the "error" detail.
func (e *Error) Unwrap() error {
	if e.Details == nil {
		return nil
	}
	if cause, ok := e.Details["error"].(error); ok {
		return cause
	}
	return nil
}

// Detail returns a single detail value
func (e *Error) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// HasCode reports whether err's chain contains a runtime error with code.
func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsRouteNotFound reports whether err is one of the unregister failures.
func IsRouteNotFound(err error) bool {
	return HasCode(err, CodeRouteMethodNotFound) || HasCode(err, CodeRouteNotRegistered)
}

// HTTPStatus maps any error to the status the HTTP surface should use.
func HTTPStatus(err error) int {
	if code, ok := CodeOf(err); ok {
		return code.HTTPStatus()
	}
	return CodeInternal.HTTPStatus()
}
