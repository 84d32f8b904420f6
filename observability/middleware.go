package observability

import (
	"time"

	"github.com/labstack/echo/v4"
)

// Middleware records every request served by echo
func Middleware(c *Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			status := ctx.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			c.RecordHTTPRequest(ctx.Request().Method, status, time.Since(start))
			return err
		}
	}
}
