package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yshengliao/swcache/auth"
	"github.com/yshengliao/swcache/hub"
	"github.com/yshengliao/swcache/middleware"
	"github.com/yshengliao/swcache/observability"
	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/router"
)

// Lifecycle notifications pushed to message channel clients
const (
	NotifyInstalled = "installed"
	NotifyActivated = "activated"
	NotifyReloaded  = "reloaded"
)

// PrecacheListing describes the current precache version
type PrecacheListing struct {
	CacheName string            `json:"cacheName"`
	URLs      []string          `json:"urls"`
	CacheKeys map[string]string `json:"cacheKeys"`
}

// MessageResult answers a posted message
type MessageResult struct {
	Handled bool `json:"handled"`
	Reply   bool `json:"reply"`
}

// HealthReport is the body of the health endpoint
type HealthReport struct {
	Status observability.HealthStatus                 `json:"status"`
	Checks map[string]observability.HealthCheckResult `json:"checks"`
}

func (s *Server) registerControl() {
	ctl := s.cfg.Control
	s.e.GET(ControlPrefix+"/health", s.handleHealth)

	s.limits = middleware.NewMemoryStore(ctl.RateLimit, ctl.RateBurst)
	g := s.e.Group(ControlPrefix, middleware.RateLimitWithConfig(middleware.RateLimitConfig{Store: s.limits}))
	if s.jwt != nil {
		g.Use(auth.Middleware(s.jwt))
	} else {
		s.logger.Warn("control API is not protected, set control.jwt_secret")
	}

	lifecycle := auth.RequireScope(auth.ScopeLifecycle)
	read := auth.RequireScope(auth.ScopeRead)
	g.POST("/install", s.handleInstall, lifecycle)
	g.POST("/activate", s.handleActivate, lifecycle)
	g.POST("/reload", s.handleReload, lifecycle)
	g.GET("/precache", s.handlePrecache, read)
	g.GET("/metrics", s.handleMetrics, read)
	g.POST("/messages", s.handleMessage, auth.RequireScope(auth.ScopeMessages))
	g.GET("/ws", s.handleWebSocket, auth.RequireScope(auth.ScopeMessages))
}

func (s *Server) handleInstall(c echo.Context) error {
	res, err := s.worker.Install(c.Request().Context())
	if err != nil {
		return err
	}
	s.notify(NotifyInstalled, res)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleActivate(c echo.Context) error {
	res, err := s.worker.Activate(c.Request().Context())
	if err != nil {
		return err
	}
	s.notify(NotifyActivated, res)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleReload(c echo.Context) error {
	res, err := s.worker.Reload(c.Request().Context())
	if err != nil {
		return err
	}
	s.notify(NotifyReloaded, res)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handlePrecache(c echo.Context) error {
	pc := s.worker.Precache()
	return c.JSON(http.StatusOK, PrecacheListing{
		CacheName: pc.Strategy().CacheName(),
		URLs:      pc.GetCachedURLs(),
		CacheKeys: pc.GetURLsToCacheKeys(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	body := map[string]any{
		"stats": s.metrics.Stats(),
		"hub":   s.hub.Metrics(),
	}
	if upstream := s.worker.UpstreamMetrics(); upstream != nil {
		body["upstream"] = upstream
	}
	if states := s.worker.BreakerStates(); states != nil {
		body["breakers"] = states
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleHealth(c echo.Context) error {
	results := s.health.Check(c.Request().Context())
	report := HealthReport{Status: observability.OverallStatus(results), Checks: results}
	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) handleMessage(c echo.Context) error {
	var msg router.Message
	if err := json.NewDecoder(c.Request().Body).Decode(&msg); err != nil {
		return swerrors.BadRequest(c, "message body must be a JSON message: "+err.Error())
	}
	res, err := s.postMessage(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) postMessage(ctx context.Context, msg router.Message) (MessageResult, error) {
	var res MessageResult
	handled, err := s.worker.PostMessage(ctx, msg, func(ok bool) { res.Reply = ok })
	res.Handled = handled
	return res, err
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	subject := ""
	if claims := auth.GetClaims(c); claims != nil {
		subject = claims.Subject
	}
	hub.NewClient(s.hub, conn, subject).Serve(c.Request().Context())
	return nil
}

// handleChannelMessage treats a websocket frame as a message event. The
// reply mirrors the MessageChannel port answer of a posted message.
func (s *Server) handleChannelMessage(ctx context.Context, _ *hub.Client, m *hub.Message) *hub.Message {
	msg := router.Message{Type: m.Type}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &msg.Payload); err != nil {
			return errorMessage(swerrors.New(swerrors.CodeInvalidInput, map[string]any{"error": err.Error()}))
		}
	}
	res, err := s.postMessage(ctx, msg)
	if err != nil {
		return errorMessage(err)
	}
	return &hub.Message{
		Type: hub.TypeReply,
		Data: map[string]any{"handled": res.Handled, "reply": res.Reply},
	}
}

func errorMessage(err error) *hub.Message {
	detail := swerrors.ResponseFrom(err).ErrorDetail
	return &hub.Message{
		Type: hub.TypeError,
		Data: map[string]any{
			"code":    detail.Code,
			"message": detail.Message,
			"details": detail.Details,
		},
	}
}

func (s *Server) notify(kind string, result any) {
	s.hub.Broadcast(&hub.Message{Type: kind, Data: map[string]any{"result": result}})
}
