package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// RequestStats contains cumulative request-engine counters.
type RequestStats struct {
	RequestsStarted   uint64 `json:"requests_started"`
	RequestsSucceeded uint64 `json:"requests_succeeded"`
	RequestsFailed    uint64 `json:"requests_failed"`
	RequestsCanceled  uint64 `json:"requests_canceled"`
	RedirectsFollowed uint64 `json:"redirects_followed"`
	BytesReceived     uint64 `json:"bytes_received"`
}

// CacheStats contains cumulative HTTP cache counters. Omitted entirely
// when the engine was built with caching disabled.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Bytes     int64 `json:"bytes"`
	Entries   int64 `json:"entries"`
}

// EngineStatsResponse contains engine runtime statistics.
type EngineStatsResponse struct {
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     time.Time     `json:"start_time"`
	CPU           CPUStats      `json:"cpu"`
	Memory        MemoryStats   `json:"memory"`
	Requests      RequestStats  `json:"requests"`
	Cache         *CacheStats   `json:"cache,omitempty"`
	InFlight      int64         `json:"in_flight_requests"`
}
