package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yshengliao/swcache/internal/testutil/mock"
	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

func serve(e *echo.Echo, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) swerrors.ErrorResponse {
	t.Helper()
	var body swerrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = GetRequestID(c)
		return c.NoContent(http.StatusOK)
	})

	rec := serve(e, http.MethodGet, "/", nil)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(e, http.MethodGet, "/", map[string]string{echo.HeaderXRequestID: "abc-123"})
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(1, 1))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/", nil).Code)

	rec := serve(e, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, swerrors.CodeRateLimitExceeded, decodeError(t, rec).ErrorDetail.Code)
}

func TestRateLimit_SkipperAndKeys(t *testing.T) {
	s := NewMemoryStore(1, 1)
	defer s.Stop()

	e := echo.New()
	e.Use(RateLimitWithConfig(RateLimitConfig{
		Store:   s,
		KeyFunc: func(c echo.Context) string { return c.Request().Header.Get("X-Client") },
		Skipper: func(c echo.Context) bool { return c.Request().URL.Path == "/free" },
	}))
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	e.GET("/", ok)
	e.GET("/free", ok)

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/", map[string]string{"X-Client": "a"}).Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/", map[string]string{"X-Client": "b"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "/", map[string]string{"X-Client": "a"}).Code)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/free", map[string]string{"X-Client": "a"}).Code)
	}
	assert.Equal(t, 2, s.Size())

	s.Reset("a")
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/", map[string]string{"X-Client": "a"}).Code)
}

func TestMemoryStore_SweepDropsIdleLimiters(t *testing.T) {
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: time.Hour,
		TTL:             time.Minute,
	})
	defer s.Stop()

	s.Allow("old")
	s.Allow("new")
	s.mu.Lock()
	s.limiters["old"].lastAccess = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.sweep(time.Now())
	assert.Equal(t, 1, s.Size())
}

func TestMemoryStore_ZeroRateIsUnlimited(t *testing.T) {
	s := NewMemoryStore(0, 0)
	defer s.Stop()
	for i := 0; i < 100; i++ {
		require.True(t, s.Allow("k"))
	}
}

func TestRecovery(t *testing.T) {
	logger := mock.NewLogger()
	e := echo.New()
	e.Use(RequestID(), Recovery(logger.Logger))
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	rec := serve(e, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, swerrors.CodeInternal, body.ErrorDetail.Code)
	assert.Equal(t, "boom", body.ErrorDetail.Details["panic"])
	assert.NotEmpty(t, body.RequestID)
	assert.True(t, logger.HasEntry(zapcore.ErrorLevel, "Panic recovered"))
}

func TestLogger(t *testing.T) {
	logger := mock.NewLogger()
	e := echo.New()
	e.Use(LoggerWithConfig(LoggerConfig{Logger: logger.Logger, SkipPaths: []string{"/health"}}))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/missing", func(echo.Context) error { return echo.ErrNotFound })

	serve(e, http.MethodGet, "/ok", nil)
	serve(e, http.MethodGet, "/health", nil)
	rec := serve(e, http.MethodGet, "/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, logger.Count("request"))
	assert.True(t, logger.HasEntry(zapcore.InfoLevel, "request"))
	assert.True(t, logger.HasEntry(zapcore.WarnLevel, "request"))
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(nil)
	e.GET("/runtime", func(echo.Context) error {
		return swerrors.New(swerrors.CodeNonPrecachedURL, map[string]any{"url": "/x"})
	})
	e.GET("/forbidden", func(echo.Context) error { return echo.NewHTTPError(http.StatusForbidden, "nope") })

	rec := serve(e, http.MethodGet, "/runtime", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, swerrors.CodeNonPrecachedURL, body.ErrorDetail.Code)
	assert.Equal(t, "/x", body.ErrorDetail.Details["url"])

	rec = serve(e, http.MethodGet, "/forbidden", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, swerrors.CodeUnauthorized, body.ErrorDetail.Code)
	assert.Equal(t, "nope", body.ErrorDetail.Message)

	rec = serve(e, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, swerrors.CodeInvalidInput, decodeError(t, rec).ErrorDetail.Code)
}
