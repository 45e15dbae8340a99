package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/config"
	"github.com/counterwatch/counterwatch/internal/inference"
	"github.com/counterwatch/counterwatch/internal/metrics"
	"github.com/counterwatch/counterwatch/internal/server"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	caps := inference.DetectHardware()
	model := inference.ChooseModel(caps, cfg.ModelPreference)
	logger.Info("model selected",
		zap.String("model", string(model)),
		zap.Int("cpu_cores", caps.CPUCores),
		zap.Bool("cuda", caps.CUDAAvailable),
		zap.String("preference", cfg.ModelPreference))

	// The model runtime is attached out of process; until one is wired in,
	// the stub keeps the pipeline exercisable end to end.
	detector := inference.NewClassFilter(&inference.StubDetector{}, cfg.ClassName, cfg.ConfidenceThreshold)

	m := metrics.New()
	hub := server.NewHub(detector, m, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"service":         "counterwatch-server",
			"model":           string(model),
			"active_sessions": hub.ActiveSessions(),
		})
	})
	e.GET("/ws", hub.HandleWebSocket)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	go func() {
		if err := e.Start(cfg.Addr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("detection server started", zap.String("addr", cfg.Addr()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
}
