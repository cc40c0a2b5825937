package main

import (
	"context"
	"fmt"
	"net/http"

	"gowa-fleet/config"
	"gowa-fleet/database"
	"gowa-fleet/internal/handler"
	"gowa-fleet/internal/logger"
	customMiddleware "gowa-fleet/internal/middleware"
	"gowa-fleet/internal/session"
	"gowa-fleet/internal/transport"
	"gowa-fleet/internal/ws"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	// .env is optional; real env vars win in production.
	_ = godotenv.Load()

	log := logger.Init("gowa-fleet")
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set, API auth will reject all tokens")
	}

	ctx := context.Background()

	db, container, err := database.Init(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}

	store, err := transport.NewSQLStore(ctx, db, container, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("credential store init failed")
	}
	wa := transport.NewWhatsmeow(container, cfg.DeviceName, log.With().Str("component", "whatsmeow").Logger())

	hub := ws.NewHub()
	go hub.Run()

	registry := session.NewRegistry(cfg, wa, store, hub, log, session.Hooks{})

	// Revive everything with stored credentials, then keep the safety net
	// sweeper running for the life of the process.
	if err := registry.RestoreAll(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore stored instances")
	}
	go registry.RunSweeper(ctx)

	h := handler.New(registry, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitPerSecond),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: cfg.RateLimitWindow,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required. Please login first."
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}
		_ = c.JSON(code, response)
	}

	// Public routes
	e.GET("/", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", handler.WebSocketHandler(hub))

	// Everything else requires a bearer token.
	api := e.Group("/api", customMiddleware.JWTAuth(cfg.JWTSecret))

	api.POST("/instances", h.CreateInstance)
	api.GET("/instances", h.ListInstances)
	api.GET("/status/:instanceId", h.GetStatus)
	api.GET("/qr/:instanceId", h.GetQR)
	api.POST("/pair/:instanceId", h.RequestPairing)
	api.POST("/send/:instanceId", h.SendMessage)
	api.POST("/disconnect/:instanceId", h.Disconnect)
	api.POST("/logout/:instanceId", h.Logout)
	api.POST("/reconnect/:instanceId", h.Reconnect)
	api.POST("/restore/:instanceId", h.Restore)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
