package httpapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"devicegate/internal/http/devices"
	"devicegate/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type App struct {
	log    *slog.Logger
	server *http.Server
	port   int
}

// New creates the HTTP server app: router, middleware chain, and routes.
func New(
	log *slog.Logger,
	handler *devices.Handler,
	port int,
	timeout time.Duration,
	authSecret string,
	allowedOrigins []string,
) *App {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recover(log))
	router.Use(middleware.RequestLog(log))

	if len(allowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = allowedOrigins
		corsCfg.AllowCredentials = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		router.Use(cors.New(corsCfg))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	handler.RegisterRoutes(apiGroup, middleware.Auth(authSecret))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	return &App{
		log:    log,
		server: server,
		port:   port,
	}
}

// Handler exposes the configured router for in-process test servers.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	a.log.Info("http server started", slog.String("addr", a.server.Addr))

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight requests.
func (a *App) Stop(ctx context.Context) error {
	const op = "httpapp.Stop"

	a.log.With(slog.String("op", op)).
		Info("stopping http server", slog.Int("port", a.port))

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
