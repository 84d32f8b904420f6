package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/auth"
)

func TestJWTService(t *testing.T) {
	service := auth.NewJWTService("test-secret-key", time.Hour, "swcache")

	t.Run("GenerateToken", func(t *testing.T) {
		token, err := service.GenerateToken("deployer")
		require.NoError(t, err)

		claims, err := service.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "deployer", claims.Subject)
		assert.Equal(t, "swcache", claims.Issuer)
		assert.Equal(t, auth.AllScopes, claims.Scopes)
		assert.True(t, claims.HasScope(auth.ScopeLifecycle))
	})

	t.Run("ExplicitScopes", func(t *testing.T) {
		token, err := service.GenerateToken("reader", auth.ScopeRead)
		require.NoError(t, err)
		claims, err := service.ValidateToken(token)
		require.NoError(t, err)
		assert.True(t, claims.HasScope(auth.ScopeRead))
		assert.False(t, claims.HasScope(auth.ScopeLifecycle))
	})

	t.Run("EmptySubject", func(t *testing.T) {
		_, err := service.GenerateToken("")
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := service.ValidateToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		short := auth.NewJWTService("test-secret-key", -time.Minute, "swcache")
		token, err := short.GenerateToken("deployer")
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("WrongSecretOrIssuer", func(t *testing.T) {
		other := auth.NewJWTService("other-secret", time.Hour, "swcache")
		token, err := other.GenerateToken("deployer")
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.Error(t, err)

		foreign := auth.NewJWTService("test-secret-key", time.Hour, "someone-else")
		token, err = foreign.GenerateToken("deployer")
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	jwtService := auth.NewJWTService("test-secret", time.Hour, "swcache")

	validToken, err := jwtService.GenerateToken("deployer")
	require.NoError(t, err)
	readOnly, err := jwtService.GenerateToken("reader", auth.ScopeRead)
	require.NoError(t, err)

	handler := func(c echo.Context) error {
		claims := auth.GetClaims(c)
		if claims == nil {
			return c.JSON(500, map[string]string{"error": "no claims"})
		}
		return c.JSON(200, map[string]string{"subject": claims.Subject})
	}
	e.GET("/protected", handler, auth.Middleware(jwtService))
	e.POST("/install", handler, auth.Middleware(jwtService), auth.RequireScope(auth.ScopeLifecycle))

	tests := []struct {
		name           string
		method         string
		target         string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{"Valid token", http.MethodGet, "/protected", "Bearer " + validToken, 200, `"subject":"deployer"`},
		{"Query token", http.MethodGet, "/protected?access_token=" + validToken, "", 200, `"subject":"deployer"`},
		{"Missing header", http.MethodGet, "/protected", "", 401, "missing authorization header"},
		{"Invalid format", http.MethodGet, "/protected", "InvalidFormat", 401, "invalid authorization header format"},
		{"Invalid token", http.MethodGet, "/protected", "Bearer invalid-token", 401, "invalid or expired token"},
		{"Scope granted", http.MethodPost, "/install", "Bearer " + validToken, 200, `"subject":"deployer"`},
		{"Scope missing", http.MethodPost, "/install", "Bearer " + readOnly, 403, "insufficient scope"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
		})
	}
}

func TestRequireScope_WithoutClaims(t *testing.T) {
	e := echo.New()
	e.GET("/open", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, auth.RequireScope(auth.ScopeRead))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
