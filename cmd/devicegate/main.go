package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"devicegate/config"
	"devicegate/internal/app"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const (
	_shutdownPeriod      = 15 * time.Second
	_readinessDrainDelay = 5 * time.Second
)

var isShuttingDown atomic.Bool

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	log.Info("devicegate", "env", cfg.Env, "max_devices", cfg.MaxDevices)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageApp, initStorageErr := app.NewStorageApp(cfg.StoragePath)
	if initStorageErr != nil {
		panic(initStorageErr)
	}
	defer func(storageApp *app.StorageApp) {
		if closeErr := storageApp.Stop(); closeErr != nil {
			log.Error("closing storage app", "err", closeErr)
		}
	}(storageApp)

	application := app.New(log, cfg, storageApp)

	go func() {
		log.Info("server starting", "port", cfg.HTTP.Port)
		if appRunErr := application.HTTPServer.Run(); appRunErr != nil {
			panic(appRunErr)
		}
	}()

	// Waiting for SIGINT (pkill -2) or SIGTERM
	<-rootCtx.Done()
	stop()

	isShuttingDown.Store(true)
	log.Info("received shutdown signal, shutting down gracefully")

	// Give time for readiness check to propagate
	time.Sleep(_readinessDrainDelay)
	log.Info("readiness check propagated, waiting for ongoing requests to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()

	if stopErr := application.HTTPServer.Stop(shutdownCtx); stopErr != nil {
		log.Error("server couldn't stop gracefully in time", "err", stopErr)
	}

	if closeErr := storageApp.Stop(); closeErr != nil {
		log.Error("closing storage app", "err", closeErr)
	}

	log.Info("server shut down gracefully")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
