package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/api/handlers"
	"github.com/meridian-net/netengine/internal/engine"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func setupTestRouter(h *handlers.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	engineGroup := api.Group("/engine")
	engineGroup.GET("/hostcache", h.ListHostCache)
	engineGroup.POST("/hostcache/evict", h.EvictHostCache)
	engineGroup.GET("/sessions", h.ListSessions)
	engineGroup.GET("/netlog", h.NetLogStatus)
	engineGroup.POST("/netlog/start", h.StartNetLog)
	engineGroup.POST("/netlog/stop", h.StopNetLog)
	engineGroup.GET("/pins", h.ListPins)
	engineGroup.GET("/pins/:hostname", h.GetPin)

	return r
}
