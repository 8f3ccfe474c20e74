// Package api exposes the trigger surface: the datastore webhook, manual
// operations, and the push-token registration hook.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
}

func (c *ServerConfig) Normalize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

type Server struct {
	log *zap.Logger
	cfg ServerConfig
	e   *echo.Echo
}

func NewServer(log *zap.Logger, cfg ServerConfig, h *Handler) *Server {
	cfg.Normalize()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewAppValidator()
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(RequestLogger(log))

	v1 := e.Group("/api/v1")
	v1.POST("/events", h.HandleEvent, WebhookAuth(cfg.WebhookSecret))

	authed := v1.Group("", JWTAuth(cfg.JWTSecret))
	authed.POST("/cases/:id/notify", h.TriggerCase)
	authed.POST("/scan", h.RunScan)
	authed.GET("/cases/:id/resolution", h.Resolution)
	authed.PATCH("/users/:id/push-token", h.UpdatePushToken)
	authed.POST("/push/test", h.TestPush)

	return &Server{
		log: log.With(zap.String("component", "api.server")),
		cfg: cfg,
		e:   e,
	}
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

// Run serves until ctx is cancelled, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      otelhttp.NewHandler(s.e, "http.api"),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return <-errCh
}
