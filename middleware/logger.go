package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig defines the config for the access log middleware
type LoggerConfig struct {
	Logger *zap.Logger
	// SkipPaths are path prefixes that are not logged
	SkipPaths []string
}

// Logger returns an access log middleware writing one zap entry per request
func Logger(logger *zap.Logger) echo.MiddlewareFunc {
	return LoggerWithConfig(LoggerConfig{Logger: logger})
}

// LoggerWithConfig returns an access log middleware with config. Server
// errors are logged at error level, client errors at warn.
func LoggerWithConfig(config LoggerConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			for _, p := range config.SkipPaths {
				if strings.HasPrefix(req.URL.Path, p) {
					return next(c)
				}
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			if ce := config.Logger.Check(level, "request"); ce != nil {
				fields := []zap.Field{
					zap.String("request_id", GetRequestID(c)),
					zap.String("method", req.Method),
					zap.String("uri", req.RequestURI),
					zap.Int("status", status),
					zap.Int64("bytes_out", c.Response().Size),
					zap.Duration("latency", time.Since(start)),
					zap.String("remote_ip", c.RealIP()),
				}
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				ce.Write(fields...)
			}
			return nil
		}
	}
}
