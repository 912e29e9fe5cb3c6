package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oneclickreelsai/studious-system/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Health check stays open; destinations also fetch media unauthenticated.
	e.GET("/health", handler.HandleHealth)
	e.GET("/media/:key", handler.HandleServeMedia)

	// Rate limiter on ingestion only
	ingestLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	api := e.Group("/api", AdminAuth(cfg.AdminPasswordHash))

	// Queue
	api.POST("/queue/items", handler.HandleAddItems, ingestLimiter.Middleware())
	api.GET("/queue", handler.HandleListQueue)
	api.GET("/queue/items/:id", handler.HandleGetItem)
	api.PATCH("/queue/items/:id", handler.HandleUpdateItem)
	api.DELETE("/queue/items/:id", handler.HandleRemoveItem)
	api.POST("/queue/clear", handler.HandleClearQueue)

	// Pipeline
	api.POST("/queue/enrich", handler.HandleEnrich)
	api.POST("/queue/dispatch", handler.HandleDispatch)
	api.GET("/queue/dispatch", handler.HandleDispatchStatus)
	api.POST("/queue/dispatch/retry", handler.HandleRetry)
	api.POST("/queue/dispatch/cancel", handler.HandleCancel)

	// History
	api.GET("/batches", handler.HandleListBatches)
	api.GET("/batches/:id", handler.HandleGetBatch)
	api.GET("/stats", handler.HandleStats)

	// Media
	api.GET("/media", handler.HandleListMedia)
	api.DELETE("/media/:key", handler.HandleDeleteMedia)

	return e
}
