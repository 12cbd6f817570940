package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meridian-net/netengine/internal/api/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health godoc
// @Summary Health check
// @Description Returns engine health status
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Security ApiKeyAuth
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Engine statistics
// @Description Returns runtime statistics including system CPU usage, memory usage, and request/cache counters
// @Tags system
// @Produce json
// @Success 200 {object} models.EngineStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.eng.StartTime())

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	snap := h.eng.Stats().Snapshot()
	resp := models.EngineStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.eng.StartTime(),
		CPU:           cpuStats,
		Memory:        memStats,
		InFlight:      h.eng.InFlightRequests(),
		Requests: models.RequestStats{
			RequestsStarted:   snap.RequestsStarted,
			RequestsSucceeded: snap.RequestsSucceeded,
			RequestsFailed:    snap.RequestsFailed,
			RequestsCanceled:  snap.RequestsCanceled,
			RedirectsFollowed: snap.RedirectsFollowed,
			BytesReceived:     snap.BytesReceived,
		},
	}

	if cache := h.getCache(); cache != nil {
		cs := cache.Stats()
		resp.Cache = &models.CacheStats{
			Hits:      cs.Hits,
			Misses:    cs.Misses,
			Evictions: cs.Evictions,
			Bytes:     cs.Bytes,
			Entries:   cs.Entries,
		}
	}

	c.JSON(http.StatusOK, resp)
}
