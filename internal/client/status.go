package client

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// StatusServer serves the session's state object as JSON on a local port.
// There is no HTML dashboard here; consumers render the stats themselves.
type StatusServer struct {
	echo   *echo.Echo
	stats  *Stats
	logger *zap.Logger
}

// NewStatusServer wires the status routes around a stats object.
func NewStatusServer(stats *Stats, logger *zap.Logger) *StatusServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &StatusServer{echo: e, stats: stats, logger: logger}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "counterwatch-client",
		})
	})
	e.GET("/api/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.stats.Snapshot())
	})

	return s
}

// Start blocks serving on addr until Shutdown.
func (s *StatusServer) Start(addr string) error {
	s.logger.Info("status server listening", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the status server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
