package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/macrolens/foodfacts/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger zerolog.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.PerIP))
	{
		products := v1.Group("/products")
		{
			products.GET("/:code", handler.GetProduct)
			products.POST("/sync", handler.SyncProducts)
			products.DELETE("", handler.ClearProducts)
		}

		v1.GET("/search", handler.SearchProducts)
		v1.GET("/stats", handler.GetStats)

		searchCache := v1.Group("/search-cache")
		{
			searchCache.GET("/stats", handler.GetSearchCacheStats)
			searchCache.DELETE("", handler.ClearSearchCache)
		}
	}

	return router
}
