package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/meridian-net/netengine/internal/api/handlers"
	"github.com/meridian-net/netengine/internal/api/middleware"

	_ "github.com/meridian-net/netengine/internal/api/docs" // swagger docs
)

// RegisterRoutes wires the introspection endpoints onto r. apiKey, when
// non-empty, gates every /api/v1 route behind X-API-Key.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, apiKey string) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if apiKey != "" {
		v1.Use(middleware.RequireAPIKey(apiKey))
	}

	v1.GET("/health", h.Health)
	v1.GET("/stats", h.Stats)

	engineGroup := v1.Group("/engine")
	engineGroup.GET("/hostcache", h.ListHostCache)
	engineGroup.POST("/hostcache/evict", h.EvictHostCache)
	engineGroup.GET("/sessions", h.ListSessions)
	engineGroup.GET("/netlog", h.NetLogStatus)
	engineGroup.POST("/netlog/start", h.StartNetLog)
	engineGroup.POST("/netlog/stop", h.StopNetLog)
	engineGroup.GET("/pins", h.ListPins)
	engineGroup.GET("/pins/:hostname", h.GetPin)
}
