// Package server exposes a worker over HTTP with echo: the runtime answers
// every path, and the control API lives under /__swcache.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yshengliao/swcache/auth"
	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/hub"
	"github.com/yshengliao/swcache/middleware"
	"github.com/yshengliao/swcache/observability"
	"github.com/yshengliao/swcache/worker"
)

// ControlPrefix is the path of the control API
const ControlPrefix = "/__swcache"

// ShutdownHook runs during Shutdown, before the listener closes
type ShutdownHook func(ctx context.Context) error

// Server serves one worker
type Server struct {
	e       *echo.Echo
	cfg     *config.Config
	worker  *worker.Worker
	logger  *zap.Logger
	metrics *observability.Collector
	health  *observability.HealthChecker
	hub     *hub.Hub
	jwt     *auth.JWTService
	limits  *middleware.MemoryStore

	upgrader websocket.Upgrader

	mu            sync.RWMutex
	shutdownHooks []ShutdownHook
}

// Option configures a Server
type Option func(*Server) error

// WithLogger sets the server logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithHealthCheck registers an extra health check
func WithHealthCheck(name string, check observability.HealthCheck) Option {
	return func(s *Server) error {
		s.health.Register(name, check)
		return nil
	}
}

// New builds the echo instance for w
func New(cfg *config.Config, w *worker.Worker, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if w == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}
	s := &Server{
		e:       echo.New(),
		cfg:     cfg,
		worker:  w,
		logger:  zap.NewNop(),
		metrics: w.Metrics(),
		health:  observability.NewHealthChecker(5 * time.Second),
	}
	s.health.Register("storage", observability.StorageHealthCheck(w.Storage()))
	if w.BreakerStates() != nil {
		s.health.Register("upstream", observability.BreakerHealthCheck(w.BreakerStates))
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	ctl := cfg.Control
	if ctl.JWTSecret != "" {
		s.jwt = auth.NewJWTService(ctl.JWTSecret, ctl.TokenTTL, ctl.Issuer)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  ctl.ReadBufferSize,
		WriteBufferSize: ctl.WriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.hub = hub.NewHub(s.logger.Named("hub"), hub.Options{
		MaxMessageSize: ctl.MaxMessageSize,
		PongWait:       ctl.PongWait,
		PingPeriod:     ctl.PingPeriod,
		Handler:        s.handleChannelMessage,
		Collector:      s.metrics,
	})
	go s.hub.Run()

	s.setupEcho()
	return s, nil
}

func (s *Server) setupEcho() {
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(s.logger)

	e.Use(middleware.RequestID())
	if s.cfg.Server.Recovery {
		e.Use(middleware.Recovery(s.logger))
	}
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Logger:    s.logger,
		SkipPaths: []string{ControlPrefix + "/health"},
	}))
	e.Use(observability.Middleware(s.metrics))

	if s.cfg.Control.Enabled {
		s.registerControl()
	}

	// Everything else is a fetch event.
	e.Any("/*", echo.WrapHandler(s.worker))
}

// Echo returns the underlying echo instance
func (s *Server) Echo() *echo.Echo { return s.e }

// Hub returns the message channel hub
func (s *Server) Hub() *hub.Hub { return s.hub }

// ServeHTTP makes the server usable with httptest
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(rw, r)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	srv := s.cfg.Server
	s.e.Server.ReadTimeout = srv.ReadTimeout
	s.e.Server.WriteTimeout = srv.WriteTimeout
	s.e.Server.IdleTimeout = srv.IdleTimeout

	s.logger.Info("Starting server", zap.String("address", srv.Address))
	if err := s.e.Start(srv.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnShutdown registers a hook run at the start of Shutdown
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown closes websocket clients, runs the hooks and stops the listener.
// Without a deadline on ctx the configured shutdown timeout applies.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown")
	if _, ok := ctx.Deadline(); !ok && s.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.limits != nil {
		s.limits.Stop()
	}
	if err := s.runShutdownHooks(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.e.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server", zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		s.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// runShutdownHooks runs the hooks in registration order.
func (s *Server) runShutdownHooks(ctx context.Context) error {
	s.mu.RLock()
	hooks := make([]ShutdownHook, len(s.shutdownHooks))
	copy(hooks, s.shutdownHooks)
	s.mu.RUnlock()

	var errs []error
	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown hook %d failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
