// Package httpcache implements the engine's HTTP response cache: an
// in-memory LRU for CacheInMemory mode and a sqlite-backed store for
// CacheDisk/CacheDiskNoHTTP, keyed by method + normalized URL +
// Vary-relevant request headers.
//
// Write path is single-writer-per-key (both backends serialize Store
// calls for the same Key), and readers always observe either the old or
// the new Entry for a key, never a partially-written one.
package httpcache

import (
	"net/http"
	"time"

	"github.com/meridian-net/netengine/internal/options"
)

// Key is the cache's primary lookup key: method and normalized URL.
// Multiple stored Entry variants may share a Key when the response Vary
// header names request headers other than Key's own fields — the Vary
// match itself happens against Entry.Vary at lookup time, since a map
// isn't a legal map key and, more fundamentally, the caller doesn't know
// which headers to key on until it has already found a candidate entry.
type Key struct {
	Method string
	URL    string
}

// Validators are the conditional-request fields carried forward from a
// prior response, used to build a revalidation request once an entry has
// gone stale.
type Validators struct {
	ETag         string
	LastModified string
}

// Entry is one cached response variant: status, headers, body,
// validators, and the freshness bookkeeping needed to classify it
// fresh/stale/expired on a later lookup.
type Entry struct {
	Key        Key
	StatusCode int
	Header     http.Header
	Body       []byte

	// Vary holds, for each header name the response's own Vary header
	// listed, the request header value captured at store time. A lookup
	// candidate only matches the new request when every one of these
	// equals the new request's value for the same header (see
	// VaryMatches).
	Vary map[string]string

	Validators           Validators
	FreshnessLifetime    time.Duration
	StaleWhileRevalidate time.Duration
	StoredAt             time.Time
}

// Size is the entry's contribution to the byte budget: header bytes plus
// body bytes, a cheap approximation rather than an exact wire size.
func (e *Entry) Size() int64 {
	n := int64(len(e.Body))
	for k, vs := range e.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

// Stats are cumulative counters exposed to the introspection API.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Bytes     int64
	Entries   int64
}

// Cache is the HTTP cache backend contract. DISABLED mode is represented
// by a nil Cache, checked by callers before use rather than a no-op
// implementation, since a disabled cache should never be consulted.
type Cache interface {
	// Lookup returns the cached Entry variant for key whose Vary snapshot
	// matches reqHeader, if any, regardless of freshness — freshness
	// classification is the caller's job (see Classify in freshness.go),
	// since a stale entry is still needed to build a revalidation request.
	Lookup(key Key, reqHeader http.Header) (*Entry, bool)

	// Store saves entry, replacing any previous entry for the same Key and
	// Vary snapshot with an atomic swap visible to concurrent readers;
	// variants of the Key with a different Vary snapshot are kept.
	Store(entry *Entry) error

	// Invalidate removes any entry for key, used when a non-GET/HEAD
	// method on the same URL observes a non-error response (RFC 7234
	// §4.4).
	Invalidate(key Key)

	// Stats returns a snapshot of cumulative counters.
	Stats() Stats

	// Close releases any resources (open file handles, DB connections).
	Close() error
}

// NewCache builds the Cache backend selected by opts.Mode. A DISABLED
// mode returns (nil, nil): callers must check for a nil Cache rather than
// calling through a no-op, since "no cache configured" and "cache
// configured but empty" are different things worth distinguishing in
// introspection.
func NewCache(opts options.CacheOptions) (Cache, error) {
	switch opts.Mode {
	case options.CacheDisabled:
		return nil, nil
	case options.CacheInMemory:
		return NewMemoryCache(opts.MaxSize), nil
	case options.CacheDisk, options.CacheDiskNoHTTP:
		return OpenDiskCache(opts.StoragePath, opts.MaxSize, opts.Mode == options.CacheDiskNoHTTP)
	default:
		return nil, nil
	}
}
