package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/alerting"
	"github.com/counterwatch/counterwatch/internal/capture"
	"github.com/counterwatch/counterwatch/internal/client"
	"github.com/counterwatch/counterwatch/internal/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadClient()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	zoneSet, err := config.LoadZones(cfg.ZonesFile)
	if err != nil {
		logger.Fatal("loading zones", zap.String("file", cfg.ZonesFile), zap.Error(err))
	}
	enabled := 0
	for _, z := range zoneSet {
		if z.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		logger.Warn("no zones enabled, all detections will be treated as floor")
	}
	logger.Info("zones loaded", zap.Int("total", len(zoneSet)), zap.Int("enabled", enabled))

	dispatcher := buildDispatcher(cfg, logger)

	// Camera acquisition is an external collaborator; the synthetic source
	// drives the pipeline when no camera integration is attached.
	source := capture.NewSyntheticSource(cfg.CameraWidth, cfg.CameraHeight, 33*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, cfg)
	dialCancel()
	if err != nil {
		logger.Fatal("connecting to detection server",
			zap.String("url", cfg.ServerURL()), zap.Error(err))
	}
	logger.Info("connected to detection server", zap.String("url", cfg.ServerURL()))

	session := client.NewSession(cfg, conn, source, zoneSet, dispatcher, logger)

	status := client.NewStatusServer(session.Stats(), logger)
	go func() {
		if err := status.Start(cfg.StatusAddr); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		cancel()
	}()

	session.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	status.Shutdown(shutdownCtx)
}

// buildDispatcher assembles the enabled alert sinks from configuration.
func buildDispatcher(cfg config.ClientConfig, logger *zap.Logger) *alerting.Dispatcher {
	var sinks []alerting.Sink

	if cfg.Snapshot.Enabled {
		snap, err := alerting.NewSnapshotSink(cfg.Snapshot.Dir, cfg.Snapshot.Retention)
		if err != nil {
			logger.Error("snapshot sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, snap)
		}
	}
	if cfg.LogAlerts {
		sinks = append(sinks, alerting.NewLogSink(logger))
	}
	if cfg.Notification.Enabled {
		sinks = append(sinks, alerting.NewNotificationSink(
			cfg.Notification.Endpoint,
			cfg.Notification.UserKey,
			cfg.Notification.APIToken))
	}

	dispatcher := alerting.NewDispatcher(logger, sinks...)
	logger.Info("alert sinks configured", zap.Int("count", len(dispatcher.Sinks())))
	return dispatcher
}
