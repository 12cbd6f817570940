// Package api provides the introspection REST API for a running engine:
// health, stats, host cache, session pool, NetLog control, and pin-set
// endpoints via a Gin-based HTTP server.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/meridian-net/netengine/internal/api/handlers"
	"github.com/meridian-net/netengine/internal/api/middleware"
	"github.com/meridian-net/netengine/internal/engine"
)

// Server is the engine's introspection REST API server.
//
// Security note: do not expose this API to untrusted networks without an
// API key configured.
type Server struct {
	eng        *engine.Engine
	logger     *slog.Logger
	handler    *handlers.Handler
	ginEngine  *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to eng, listening on host:port. apiKey, when
// non-empty, gates every /api/v1 route. dashboardDir, when non-empty, is
// served as static files at "/" (a small bundled operator dashboard);
// pass "" to skip it.
func New(eng *engine.Engine, host string, port int, apiKey string, dashboardDir string, logger *slog.Logger) *Server {
	if eng == nil {
		panic("api.New: eng is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(middleware.SlogRequestLogger(logger))

	if dashboardDir != "" {
		ginEngine.Use(static.Serve("/", static.LocalFile(dashboardDir, false)))
	}

	h := handlers.New(eng, logger)
	RegisterRoutes(ginEngine, h, apiKey)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           ginEngine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{eng: eng, logger: logger, handler: h, ginEngine: ginEngine, httpServer: httpServer}
}

// Handler returns the underlying handlers.Handler so callers can attach
// the host cache, session pool, HTTP cache, and pin store once those
// components exist.
func (s *Server) Handler() *handlers.Handler { return s.handler }

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.ginEngine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
