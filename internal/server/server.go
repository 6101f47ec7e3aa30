// Package server exposes runs over HTTP with Echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/runs"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	runs   *runs.Service
	logger *zap.Logger
}

// New wires middleware and routes. The /api group requires a bearer token
// when cfg.JWTSecret is set.
func New(cfg config.ServerConfig, svc *runs.Service, tele *telemetry.Telemetry, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("http")
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Info("request failed",
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err))
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(corsConfig(cfg.AllowedOrigins)))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if reg := tele.Registry(); reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	api := e.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(AuthMiddleware([]byte(cfg.JWTSecret)))
	} else {
		logger.Warn("api authentication disabled: server.jwt_secret is empty")
	}
	(&OutlinesHandler{}).Register(api.Group("/outlines"))
	(&RunsHandler{runs: svc, streamEnabled: cfg.RunStreamEnabled, logger: logger}).Register(api.Group("/runs"))

	return &Server{echo: e, cfg: cfg, runs: svc, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown; it returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Address
	}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then cancels the runs still executing.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if s.runs != nil {
		err = errors.Join(err, s.runs.Shutdown(ctx))
	}
	return err
}

// corsConfig only lets credentials through for an explicit origin list.
func corsConfig(origins []string) middleware.CORSConfig {
	c := middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Last-Event-ID"},
	}
	if len(origins) > 0 {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}
