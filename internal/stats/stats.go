// Package stats collects engine-wide counters (requests, cache hits,
// bytes transferred) and system resource readings (CPU, memory), the
// same two concerns the teacher's admin API bundled into one /stats
// endpoint, now split into a Collector for the counters and a
// SystemSnapshot helper for the gopsutil-backed system readings.
package stats

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector accumulates engine counters. All methods are safe for
// concurrent use.
type Collector struct {
	requestsStarted   atomic.Uint64
	requestsSucceeded atomic.Uint64
	requestsFailed    atomic.Uint64
	requestsCanceled  atomic.Uint64
	bytesReceived     atomic.Uint64
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	redirectsFollowed atomic.Uint64
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordRequestStarted()   { c.requestsStarted.Add(1) }
func (c *Collector) RecordRequestSucceeded() { c.requestsSucceeded.Add(1) }
func (c *Collector) RecordRequestFailed()    { c.requestsFailed.Add(1) }
func (c *Collector) RecordRequestCanceled()  { c.requestsCanceled.Add(1) }
func (c *Collector) RecordRedirectFollowed() { c.redirectsFollowed.Add(1) }

func (c *Collector) RecordBytesReceived(n int64) {
	if n > 0 {
		c.bytesReceived.Add(uint64(n))
	}
}

func (c *Collector) RecordCacheHit()  { c.cacheHits.Add(1) }
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Add(1) }

// Snapshot is a point-in-time view of Collector's counters.
type Snapshot struct {
	RequestsStarted   uint64
	RequestsSucceeded uint64
	RequestsFailed    uint64
	RequestsCanceled  uint64
	BytesReceived     uint64
	CacheHits         uint64
	CacheMisses       uint64
	RedirectsFollowed uint64
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		RequestsStarted:   c.requestsStarted.Load(),
		RequestsSucceeded: c.requestsSucceeded.Load(),
		RequestsFailed:    c.requestsFailed.Load(),
		RequestsCanceled:  c.requestsCanceled.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		CacheHits:         c.cacheHits.Load(),
		CacheMisses:       c.cacheMisses.Load(),
		RedirectsFollowed: c.redirectsFollowed.Load(),
	}
}

// MemoryStats mirrors the host's virtual memory usage at sample time.
type MemoryStats struct {
	TotalMB     float64
	FreeMB      float64
	UsedMB      float64
	UsedPercent float64
}

// CPUStats mirrors host CPU usage, sampled over a short window.
type CPUStats struct {
	NumCPU      int
	UsedPercent float64
	IdlePercent float64
}

// SystemSnapshot is CPU+memory readings alongside process uptime,
// assembled the same way the teacher's Stats handler assembled its
// ServerStatsResponse.
type SystemSnapshot struct {
	UptimeSeconds int64
	StartTime     time.Time
	CPU           CPUStats
	Memory        MemoryStats
}

// ReadSystemSnapshot samples CPU (over sampleWindow) and memory via
// gopsutil, tolerating either reading's failure by leaving it zeroed
// rather than failing the whole snapshot.
func ReadSystemSnapshot(startTime time.Time, sampleWindow time.Duration) SystemSnapshot {
	if sampleWindow <= 0 {
		sampleWindow = 200 * time.Millisecond
	}

	snap := SystemSnapshot{
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		StartTime:     startTime,
		CPU:           CPUStats{NumCPU: runtime.NumCPU()},
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.Memory = MemoryStats{
			TotalMB:     float64(vm.Total) / 1024 / 1024,
			FreeMB:      float64(vm.Available) / 1024 / 1024,
			UsedMB:      float64(vm.Used) / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}
	if pct, err := cpu.Percent(sampleWindow, false); err == nil && len(pct) > 0 {
		snap.CPU.UsedPercent = pct[0]
		snap.CPU.IdlePercent = 100.0 - pct[0]
	}

	return snap
}
