package httpcache

import (
	"container/list"
	"net/http"
	"sync"
)

// memoryVariant is one Vary-distinguished Entry variant under a Key,
// tracked in the LRU list by its own element.
type memoryVariant struct {
	entry *Entry
	elem  *list.Element
}

// MemoryCache is the IN_MEMORY cache backend: an LRU list plus a map,
// mirroring the shape of the DNS resolver's generic TTLCache (LRU list +
// map, hit/miss counters), but evicting on a soft byte budget instead of
// an entry count, since HTTP response bodies vary wildly in size, and
// keyed by (method, URL) with a linear Vary-match scan across variants,
// since a Vary header can name arbitrary request headers unknown until a
// candidate is already found.
type MemoryCache struct {
	mu sync.Mutex

	maxBytes int64
	curBytes int64

	lru  *list.List
	data map[Key][]*memoryVariant

	hits, misses, evictions int64
}

// NewMemoryCache returns a MemoryCache enforcing maxBytes as a soft
// budget: a single Store may push curBytes briefly over maxBytes before
// eviction catches up, per the "may exceed briefly" allowance.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &MemoryCache{
		maxBytes: maxBytes,
		lru:      list.New(),
		data:     map[Key][]*memoryVariant{},
	}
}

func (c *MemoryCache) Lookup(key Key, reqHeader http.Header) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range c.data[key] {
		if VaryMatches(v.entry, reqHeader) {
			c.lru.MoveToBack(v.elem)
			c.hits++
			return v.entry, true
		}
	}
	c.misses++
	return nil, false
}

func (c *MemoryCache) Store(entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	variants := c.data[entry.Key]
	for _, v := range variants {
		if variantMatchesVary(v.entry, entry.Vary) {
			c.curBytes -= v.entry.Size()
			v.entry = entry
			c.curBytes += entry.Size()
			c.lru.MoveToBack(v.elem)
			c.evictLocked()
			return nil
		}
	}

	v := &memoryVariant{entry: entry}
	v.elem = c.lru.PushBack(entry.Key)
	c.data[entry.Key] = append(variants, v)
	c.curBytes += entry.Size()
	c.evictLocked()
	return nil
}

// variantMatchesVary reports whether an existing variant was stored
// against the same set of Vary header values a new write is about to
// store, meaning the write should replace it rather than add a sibling.
func variantMatchesVary(existing *Entry, vary map[string]string) bool {
	if len(existing.Vary) != len(vary) {
		return false
	}
	for k, v := range vary {
		if existing.Vary[k] != v {
			return false
		}
	}
	return true
}

func (c *MemoryCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.data[key] {
		c.curBytes -= v.entry.Size()
		c.lru.Remove(v.elem)
	}
	delete(c.data, key)
}

// evictLocked removes least-recently-used variants until curBytes is
// back under maxBytes, matching the TTLCache's evictOldest shape. The LRU
// list holds Key values (one element per variant); eviction drops the
// oldest variant under that key, pruning the key entirely once empty.
func (c *MemoryCache) evictLocked() {
	for c.curBytes > c.maxBytes {
		front := c.lru.Front()
		if front == nil {
			break
		}
		key := front.Value.(Key)
		variants := c.data[key]
		idx := -1
		for i, v := range variants {
			if v.elem == front {
				idx = i
				break
			}
		}
		c.lru.Remove(front)
		if idx < 0 {
			continue
		}
		c.curBytes -= variants[idx].entry.Size()
		c.evictions++
		variants = append(variants[:idx], variants[idx+1:]...)
		if len(variants) == 0 {
			delete(c.data, key)
		} else {
			c.data[key] = variants
		}
	}
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries int64
	for _, variants := range c.data {
		entries += int64(len(variants))
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Bytes:     c.curBytes,
		Entries:   entries,
	}
}

func (c *MemoryCache) Close() error { return nil }
