package app

import (
	"log/slog"

	"devicegate/config"
	httpapp "devicegate/internal/app/http"
	"devicegate/internal/http/devices"
	"devicegate/internal/services/registry"
)

type App struct {
	HTTPServer *httpapp.App
	StorageApp *StorageApp
	Registry   *registry.Registry
}

func New(
	log *slog.Logger,
	cfg *config.Config,
	storageApp *StorageApp,
) *App {
	store := storageApp.Storage()

	registryService := registry.New(log, store, store, cfg.MaxDevices)

	handler := devices.NewHandler(registryService, cfg.HeartbeatInterval)

	httpApp := httpapp.New(
		log,
		handler,
		cfg.HTTP.Port,
		cfg.HTTP.Timeout,
		cfg.Auth.Secret,
		cfg.HTTP.AllowedOrigins,
	)

	return &App{
		HTTPServer: httpApp,
		StorageApp: storageApp,
		Registry:   registryService,
	}
}
