package middleware

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

// RecoveryConfig contains configuration for the recovery middleware
type RecoveryConfig struct {
	// Logger is used to log panics
	Logger *zap.Logger
	// StackSize is the maximum size of the stack trace
	StackSize int
	// DisableStackAll disables the stack trace for all goroutines
	DisableStackAll bool
}

// Recovery returns a middleware that recovers from panics
func Recovery(logger *zap.Logger) echo.MiddlewareFunc {
	return RecoveryWithConfig(RecoveryConfig{Logger: logger})
}

// RecoveryWithConfig returns a middleware with custom configuration. A
// panic becomes an internal-error JSON response; the stack is included in
// the details only when the logger runs at debug level.
func RecoveryWithConfig(config RecoveryConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.StackSize == 0 {
		config.StackSize = 4 << 10
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}

				stack := make([]byte, config.StackSize)
				stack = stack[:runtime.Stack(stack, !config.DisableStackAll)]

				config.Logger.Error("Panic recovered",
					zap.Error(err),
					zap.String("stack", string(stack)),
					zap.String("path", c.Request().URL.Path),
					zap.String("request_id", GetRequestID(c)))

				resp := swerrors.NewResponse(swerrors.CodeInternal, "Internal server error")
				if config.Logger.Core().Enabled(zap.DebugLevel) {
					resp.WithDetail("panic", err.Error()).WithDetail("stack", formatStack(stack))
				}
				returnErr = resp.Send(c, swerrors.CodeInternal.HTTPStatus())
			}()
			return next(c)
		}
	}
}

// formatStack drops runtime and framework frames
func formatStack(stack []byte) []string {
	lines := strings.Split(string(stack), "\n")
	formatted := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" ||
			strings.Contains(line, "runtime/") ||
			strings.Contains(line, "net/http/") ||
			strings.Contains(line, "github.com/labstack/echo") {
			continue
		}
		formatted = append(formatted, line)
	}
	return formatted
}
