// Package resolver implements the built-in DNS resolver: a TTL/stale-aware
// host cache, fresh-vs-stale arbitration, optional on-disk persistence, and
// opportunistic preconnection to stale results.
package resolver

import (
	"container/list"
	"net"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
)

// AddressFamily selects which record type a lookup or cache entry is for.
type AddressFamily int

const (
	FamilyUnspecified AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspecified"
	}
}

// Source identifies where a HostCacheEntry's data came from.
type Source int

const (
	SourceSystem Source = iota
	SourceBuiltin
	SourceHostsFile
	SourceCachedPersisted
)

func (s Source) String() string {
	switch s {
	case SourceSystem:
		return "system"
	case SourceBuiltin:
		return "builtin"
	case SourceHostsFile:
		return "hosts-file"
	case SourceCachedPersisted:
		return "cached-persisted"
	default:
		return "unknown"
	}
}

// Endpoint is a resolved IP endpoint. Port is 0 unless the entry came from
// a source (e.g. a hosts-file alias or SRV-style hint) that carries one.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Key identifies a HostCacheEntry: (host, addressFamily, NetworkBinding).
type Key struct {
	Host    string
	Family  AddressFamily
	Binding engine.NetworkBinding
}

// EntryState is the freshness classification of a HostCacheEntry relative
// to now and maxExpiredDelay.
type EntryState int

const (
	StateFresh EntryState = iota
	StateStale
	StateExpired
)

// Entry is a HostCacheEntry: a resolved, ordered endpoint list plus the
// bookkeeping needed for stale-while-revalidate and cross-network reuse.
type Entry struct {
	Key             Key
	Resolved        []Endpoint
	FetchedAt       time.Time
	TTL             time.Duration
	Source          Source
	PinnedToNetwork engine.NetworkBinding
}

// State classifies the entry's freshness. maxExpiredDelay <= 0 means
// unbounded staleness (an expired entry is eligible forever).
func (e *Entry) State(now time.Time, maxExpiredDelay time.Duration) EntryState {
	age := now.Sub(e.FetchedAt)
	if age < e.TTL {
		return StateFresh
	}
	if maxExpiredDelay <= 0 || age < e.TTL+maxExpiredDelay {
		return StateStale
	}
	return StateExpired
}

type cacheNode struct {
	key   Key
	entry Entry
	elem  *list.Element
}

// HostCache is a thread-safe LRU store of HostCacheEntry values keyed by
// (host, family, binding), mirroring the eviction/expiry shape of the
// response cache used for upstream query caching, generalized from a
// single value type to the richer Entry record and from pure TTL
// expiration to the three-way fresh/stale/expired classification.
type HostCache struct {
	mu         sync.Mutex
	maxEntries int
	lru        *list.List
	data       map[Key]*cacheNode
}

// NewHostCache creates an empty cache bounded to maxEntries; entries
// beyond that are evicted least-recently-used first, the same discipline
// OOM-pressure eviction uses when it asks the cache to shed load.
func NewHostCache(maxEntries int) *HostCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &HostCache{
		maxEntries: maxEntries,
		lru:        list.New(),
		data:       map[Key]*cacheNode{},
	}
}

// Lookup returns the entry for key, if present, without regard to
// freshness; callers classify it with Entry.State.
func (c *HostCache) Lookup(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.data[key]
	if !ok {
		return Entry{}, false
	}
	c.lru.MoveToBack(n.elem)
	return n.entry, true
}

// LookupAnyBinding scans for an entry matching host+family regardless of
// NetworkBinding, used when allowCrossNetworkUsage permits serving an
// entry pinned to a different network. Returns the freshest match.
func (c *HostCache) LookupAnyBinding(host string, family AddressFamily) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *cacheNode
	for k, n := range c.data {
		if k.Host != host || k.Family != family {
			continue
		}
		if best == nil || n.entry.FetchedAt.After(best.entry.FetchedAt) {
			best = n
		}
	}
	if best == nil {
		return Entry{}, false
	}
	c.lru.MoveToBack(best.elem)
	return best.entry, true
}

// Insert stores or replaces the entry for key.
func (c *HostCache) Insert(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.data[entry.Key]; ok {
		n.entry = entry
		c.lru.MoveToBack(n.elem)
		return
	}
	n := &cacheNode{key: entry.Key, entry: entry}
	n.elem = c.lru.PushBack(entry.Key)
	c.data[entry.Key] = n
	c.evictOverCapacity()
}

// Evict removes the entry for key, if any.
func (c *HostCache) Evict(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
}

func (c *HostCache) evictLocked(key Key) {
	n, ok := c.data[key]
	if !ok {
		return
	}
	c.lru.Remove(n.elem)
	delete(c.data, key)
}

// FlushNetwork evicts every entry pinned to binding. Called on a
// default-network change event unless allowCrossNetworkUsage is set, per
// the HostCacheEntry lifecycle.
func (c *HostCache) FlushNetwork(binding engine.NetworkBinding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, n := range c.data {
		if n.entry.PinnedToNetwork == binding {
			c.lru.Remove(n.elem)
			delete(c.data, k)
		}
	}
}

// EvictLRU removes up to n least-recently-used entries, used when the
// engine observes OOM memory pressure.
func (c *HostCache) EvictLRU(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for evicted < n {
		front := c.lru.Front()
		if front == nil {
			break
		}
		key := front.Value.(Key)
		c.lru.Remove(front)
		delete(c.data, key)
		evicted++
	}
	return evicted
}

func (c *HostCache) evictOverCapacity() {
	for len(c.data) > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			return
		}
		key := front.Value.(Key)
		c.lru.Remove(front)
		delete(c.data, key)
	}
}

// Len returns the number of entries currently cached.
func (c *HostCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Snapshot returns every entry currently in the cache, for persistence.
func (c *HostCache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.data))
	for _, n := range c.data {
		out = append(out, n.entry)
	}
	return out
}
