package resolver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
)

// PersistStatus mirrors the host cache persister's current state, exposed
// for introspection the way a background sync loop reports its last
// result.
type PersistStatus struct {
	Running      bool
	LastSaveTime *time.Time
	LastSaveErr  string
	SaveCount    int64
	ErrorCount   int64
}

type persistedEntry struct {
	Host            string    `json:"host"`
	Family          int       `json:"family"`
	Binding         int64     `json:"binding"`
	IPs             []string  `json:"ips"`
	FetchedAt       time.Time `json:"fetched_at"`
	TTLSeconds      float64   `json:"ttl_seconds"`
	Source          int       `json:"source"`
	PinnedToNetwork int64     `json:"pinned_to_network"`
}

// Persister debounces writes of a HostCache's contents to a JSON file on
// disk, coalescing bursts of cache mutations into a single write every
// delay, and reloads the file back into a cache at startup.
type Persister struct {
	path   string
	delay  time.Duration
	cache  *HostCache
	logger *slog.Logger

	mu      sync.Mutex
	dirty   bool
	timer   *time.Timer
	stopped bool
	status  PersistStatus
}

// NewPersister creates a Persister that writes cache to path no more
// often than once every delay after being marked dirty.
func NewPersister(path string, delay time.Duration, cache *HostCache, logger *slog.Logger) *Persister {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		path:   path,
		delay:  delay,
		cache:  cache,
		logger: logger,
		status: PersistStatus{Running: true},
	}
}

// Load reads path and inserts every entry into cache as stored, whatever
// its age; expired entries are not skipped, and their freshness is judged
// at lookup time like any other entry's. Missing files are not an error.
func Load(path string, cache *HostCache) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolver: reading host cache file: %w", err)
	}

	var entries []persistedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("resolver: decoding host cache file: %w", err)
	}

	for _, pe := range entries {
		endpoints := make([]Endpoint, 0, len(pe.IPs))
		for _, s := range pe.IPs {
			if ip := net.ParseIP(s); ip != nil {
				endpoints = append(endpoints, Endpoint{IP: ip})
			}
		}
		cache.Insert(Entry{
			Key: Key{
				Host:    pe.Host,
				Family:  AddressFamily(pe.Family),
				Binding: engine.NetworkBindingFromRaw(pe.Binding),
			},
			Resolved:        endpoints,
			FetchedAt:       pe.FetchedAt,
			TTL:             time.Duration(pe.TTLSeconds * float64(time.Second)),
			Source:          SourceCachedPersisted,
			PinnedToNetwork: engine.NetworkBindingFromRaw(pe.PinnedToNetwork),
		})
	}
	return nil
}

// MarkDirty schedules a write delay from now if one is not already
// pending; repeated calls within delay collapse into a single write.
func (p *Persister) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.dirty = true
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.delay, p.flush)
}

func (p *Persister) flush() {
	p.mu.Lock()
	p.timer = nil
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	p.dirty = false
	p.mu.Unlock()

	if err := p.save(); err != nil {
		p.recordError(err)
		p.logger.Warn("resolver: failed to persist host cache", "path", p.path, "err", err)
		return
	}
	p.recordSuccess()
}

func (p *Persister) save() error {
	snapshot := p.cache.Snapshot()
	out := make([]persistedEntry, 0, len(snapshot))
	for _, e := range snapshot {
		ips := make([]string, 0, len(e.Resolved))
		for _, ep := range e.Resolved {
			ips = append(ips, ep.IP.String())
		}
		out = append(out, persistedEntry{
			Host:            e.Key.Host,
			Family:          int(e.Key.Family),
			Binding:         e.Key.Binding.Raw(),
			IPs:             ips,
			FetchedAt:       e.FetchedAt,
			TTLSeconds:      e.TTL.Seconds(),
			Source:          int(e.Source),
			PinnedToNetwork: e.PinnedToNetwork.Raw(),
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("resolver: encoding host cache: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".hostcache-*.tmp")
	if err != nil {
		return fmt.Errorf("resolver: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("resolver: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("resolver: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("resolver: renaming temp file into place: %w", err)
	}
	return nil
}

func (p *Persister) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.status.LastSaveTime = &now
	p.status.LastSaveErr = ""
	p.status.SaveCount++
}

func (p *Persister) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastSaveErr = err.Error()
	p.status.ErrorCount++
}

// Status returns a snapshot of the persister's save history.
func (p *Persister) Status() PersistStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Stop cancels any pending scheduled write and performs one final
// synchronous flush if the cache is dirty, matching graceful-shutdown
// expectations that the on-disk file reflects the last known state.
func (p *Persister) Stop() error {
	p.mu.Lock()
	p.stopped = true
	dirty := p.dirty
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if !dirty {
		return nil
	}
	if err := p.save(); err != nil {
		p.recordError(err)
		return err
	}
	p.recordSuccess()
	return nil
}
