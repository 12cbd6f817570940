// Package handlers implements the REST introspection endpoints for the
// network engine: health, runtime stats, host cache contents, session
// pool contents, NetLog control, and pin-set inspection.
//
// @title netengine Introspection API
// @version 1.0
// @description Operator/debug REST surface over a running engine instance.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"sync"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/httpcache"
	"github.com/meridian-net/netengine/internal/pins"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
)

// Handler holds references to the live engine components introspection
// endpoints read from. Each component is optional (nil when the engine
// was built without it, e.g. no cache configured) and attached after
// construction via the Set* methods, the way cmd/* wires the engine
// together piece by piece.
type Handler struct {
	eng    *engine.Engine
	logger *slog.Logger

	mu          sync.RWMutex
	hostCache   *resolver.HostCache
	sessionPool *session.Pool
	cache       httpcache.Cache
	pinStore    *pins.Store
}

// New constructs a Handler bound to eng. Components other than the
// engine itself are attached afterward via the Set* methods.
func New(eng *engine.Engine, logger *slog.Logger) *Handler {
	if eng == nil {
		panic("handlers.New: eng is nil")
	}
	return &Handler{eng: eng, logger: logger}
}

func (h *Handler) SetHostCache(c *resolver.HostCache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hostCache = c
}

func (h *Handler) SetSessionPool(p *session.Pool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionPool = p
}

func (h *Handler) SetCache(c httpcache.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = c
}

func (h *Handler) SetPinStore(s *pins.Store) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinStore = s
}

func (h *Handler) getHostCache() *resolver.HostCache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hostCache
}

func (h *Handler) getSessionPool() *session.Pool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessionPool
}

func (h *Handler) getCache() httpcache.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cache
}

func (h *Handler) getPinStore() *pins.Store {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pinStore
}
