package stats

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// defaultPressureThreshold is the VirtualMemory UsedPercent above which
// PressureMonitor evicts host cache entries; defaultEvictBatch is how
// many least-recently-used entries it asks the cache to drop per tick
// while still under pressure.
const (
	defaultPressureThreshold = 85.0
	defaultEvictBatch        = 64
)

// PressureMonitor periodically samples system memory and, once usage
// crosses a threshold, calls onPressure to evict entries from a bounded
// cache (the resolver's HostCache.EvictLRU, in practice) until usage
// drops back under the threshold or the cache reports nothing left to
// evict. It runs as a ticker loop with a stop channel, the same shape as
// the teacher's blocklist refresh loop.
type PressureMonitor struct {
	interval  time.Duration
	threshold float64
	batch     int
	onPressure func(n int) int
	logger    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPressureMonitor builds a PressureMonitor. onPressure is called with
// a suggested eviction count and must return how many entries it
// actually evicted; a zero return (cache already empty) stops further
// eviction attempts for that tick.
func NewPressureMonitor(interval time.Duration, onPressure func(n int) int, logger *slog.Logger) *PressureMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PressureMonitor{
		interval:   interval,
		threshold:  defaultPressureThreshold,
		batch:      defaultEvictBatch,
		onPressure: onPressure,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WithThreshold overrides the default UsedPercent threshold.
func (p *PressureMonitor) WithThreshold(pct float64) *PressureMonitor {
	p.threshold = pct
	return p
}

// Start begins the sampling loop in its own goroutine.
func (p *PressureMonitor) Start() {
	go p.loop()
}

// Stop ends the sampling loop and waits for it to exit.
func (p *PressureMonitor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *PressureMonitor) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sample()
		case <-p.stop:
			return
		}
	}
}

func (p *PressureMonitor) sample() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	if vm.UsedPercent < p.threshold {
		return
	}

	p.logger.Warn("stats: memory pressure detected, evicting host cache entries",
		"used_percent", vm.UsedPercent, "threshold", p.threshold)

	for vm.UsedPercent >= p.threshold {
		evicted := p.onPressure(p.batch)
		if evicted == 0 {
			return
		}
		vm, err = mem.VirtualMemory()
		if err != nil {
			return
		}
	}
}
