package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meridian-net/netengine/internal/api/models"
	"github.com/meridian-net/netengine/internal/resolver"
)

func stateString(s resolver.EntryState) string {
	switch s {
	case resolver.StateFresh:
		return "fresh"
	case resolver.StateStale:
		return "stale"
	default:
		return "expired"
	}
}

// ListHostCache godoc
// @Summary List resolver host cache entries
// @Description Returns every entry currently held by the built-in resolver's host cache
// @Tags resolver
// @Produce json
// @Success 200 {object} models.HostCacheResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/hostcache [get]
func (h *Handler) ListHostCache(c *gin.Context) {
	hc := h.getHostCache()
	if hc == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "host cache not configured"})
		return
	}

	now := time.Now()
	entries := hc.Snapshot()
	resp := models.HostCacheResponse{Entries: make([]models.HostCacheEntryResponse, 0, len(entries))}
	for _, e := range entries {
		addrs := make([]string, 0, len(e.Resolved))
		for _, ep := range e.Resolved {
			addrs = append(addrs, ep.IP.String())
		}
		resp.Entries = append(resp.Entries, models.HostCacheEntryResponse{
			Host:      e.Key.Host,
			Family:    e.Key.Family.String(),
			Binding:   e.Key.Binding.String(),
			Addresses: addrs,
			Source:    e.Source.String(),
			FetchedAt: e.FetchedAt,
			TTLMs:     e.TTL.Milliseconds(),
			State:     stateString(e.State(now, 0)),
		})
	}
	resp.Count = len(resp.Entries)
	c.JSON(http.StatusOK, resp)
}

// EvictHostCache godoc
// @Summary Evict least-recently-used host cache entries
// @Description Evicts up to n least-recently-used entries from the resolver host cache, for manual memory-pressure relief
// @Tags resolver
// @Produce json
// @Param n query int false "maximum entries to evict (default 1)"
// @Success 200 {object} models.EvictResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /engine/hostcache/evict [post]
func (h *Handler) EvictHostCache(c *gin.Context) {
	hc := h.getHostCache()
	if hc == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "host cache not configured"})
		return
	}

	n := 1
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	c.JSON(http.StatusOK, models.EvictResponse{Evicted: hc.EvictLRU(n)})
}
