package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

const (
	// ClaimsContextKey is the key used to store claims in context
	ClaimsContextKey = "jwt-claims"
)

// Middleware creates a JWT authentication middleware. The token comes from
// the Authorization header, or from the access_token query parameter for
// websocket handshakes that cannot set headers.
func Middleware(jwtService *JWTService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.QueryParam("access_token")
			if authHeader := c.Request().Header.Get(echo.HeaderAuthorization); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return swerrors.UnauthorizedError(c, "invalid authorization header format")
				}
				token = parts[1]
			}
			if token == "" {
				return swerrors.UnauthorizedError(c, "missing authorization header")
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				return swerrors.UnauthorizedError(c, "invalid or expired token")
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}

// GetClaims retrieves JWT claims from context
func GetClaims(c echo.Context) *Claims {
	if claims, ok := c.Get(ClaimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// RequireScope creates a middleware that requires a token scope. Requests
// that carry no claims pass, so the guard is a no-op when the control API
// runs without a secret.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims != nil && !claims.HasScope(scope) {
				return swerrors.NewResponse(swerrors.CodeUnauthorized, "insufficient scope").
					WithDetail("scope", scope).
					Send(c, http.StatusForbidden)
			}
			return next(c)
		}
	}
}
