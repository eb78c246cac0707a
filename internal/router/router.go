// Package router assembles the gin engine: middleware chain and the
// dashboard API routes.
package router

import (
	"pt-watch/internal/handler"
	"pt-watch/internal/middleware"
	"pt-watch/internal/types"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP engine.
func NewRouter(serverHandler *handler.Server, configManager types.ConfigManager) *gin.Engine {
	if configManager.IsDebugMode() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(configManager.GetLogConfig()))
	router.Use(middleware.CORS(configManager.GetCORSConfig()))
	router.Use(middleware.RateLimiter(configManager.GetPerformanceConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerSystemRoutes(router, serverHandler)
	registerAPIRoutes(router, serverHandler, configManager)

	return router
}

func registerSystemRoutes(router *gin.Engine, serverHandler *handler.Server) {
	router.GET("/health", serverHandler.Health)
}

// registerAPIRoutes registers the dashboard API. Everything under /api
// requires the auth key.
func registerAPIRoutes(router *gin.Engine, serverHandler *handler.Server, configManager types.ConfigManager) {
	api := router.Group("/api")
	api.Use(middleware.Auth(configManager.GetAuthConfig()))

	scan := api.Group("/scan")
	{
		scan.GET("/status", serverHandler.GetScanStatus)
		scan.GET("/deps", serverHandler.GetDepsStatus)
		scan.POST("/run", serverHandler.RunScan)
	}

	states := api.Group("/states")
	{
		states.GET("", serverHandler.ListStates)
		states.GET("/:domain", serverHandler.GetState)
	}

	sites := api.Group("/sites")
	{
		sites.GET("", serverHandler.ListSites)
		sites.POST("", serverHandler.CreateSite)
		sites.PUT("/:id", serverHandler.UpdateSite)
		sites.DELETE("/:id", serverHandler.DeleteSite)
	}

	settings := api.Group("/settings")
	{
		settings.GET("", serverHandler.GetSettings)
		settings.PUT("", serverHandler.UpdateSettings)
	}

	notify := api.Group("/notify")
	{
		notify.GET("/channels", serverHandler.GetNotifyChannels)
		notify.PUT("/channels", serverHandler.UpdateNotifyChannels)
		notify.POST("/test/:channel", serverHandler.TestNotifyChannel)
	}
}
