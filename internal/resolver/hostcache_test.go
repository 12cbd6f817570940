package resolver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/engine"
)

func TestEntryStateFresh(t *testing.T) {
	e := Entry{FetchedAt: time.Now(), TTL: time.Minute}
	assert.Equal(t, StateFresh, e.State(time.Now(), time.Minute))
}

func TestEntryStateStaleWithinMaxExpiredDelay(t *testing.T) {
	e := Entry{FetchedAt: time.Now().Add(-2 * time.Minute), TTL: time.Minute}
	assert.Equal(t, StateStale, e.State(time.Now(), 5*time.Minute))
}

func TestEntryStateExpiredBeyondMaxExpiredDelay(t *testing.T) {
	e := Entry{FetchedAt: time.Now().Add(-10 * time.Minute), TTL: time.Minute}
	assert.Equal(t, StateExpired, e.State(time.Now(), time.Minute))
}

func TestEntryStateUnboundedStaleness(t *testing.T) {
	e := Entry{FetchedAt: time.Now().Add(-time.Hour), TTL: time.Minute}
	assert.Equal(t, StateStale, e.State(time.Now(), 0))
}

func TestHostCacheInsertAndLookup(t *testing.T) {
	c := NewHostCache(10)
	key := Key{Host: "example.com", Family: FamilyIPv4}
	entry := Entry{Key: key, Resolved: []Endpoint{{IP: net.ParseIP("93.184.216.34")}}, FetchedAt: time.Now(), TTL: time.Minute}
	c.Insert(entry)

	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, entry.Resolved, got.Resolved)
}

func TestHostCacheLookupAnyBinding(t *testing.T) {
	c := NewHostCache(10)
	boundKey := Key{Host: "example.com", Family: FamilyIPv4, Binding: engine.NewNetworkBinding()}
	c.Insert(Entry{Key: boundKey, FetchedAt: time.Now(), TTL: time.Minute})

	_, ok := c.Lookup(Key{Host: "example.com", Family: FamilyIPv4})
	assert.False(t, ok)

	got, ok := c.LookupAnyBinding("example.com", FamilyIPv4)
	require.True(t, ok)
	assert.Equal(t, boundKey, got.Key)
}

func TestHostCacheEvictsOverCapacity(t *testing.T) {
	c := NewHostCache(2)
	for i := 0; i < 3; i++ {
		key := Key{Host: string(rune('a' + i)), Family: FamilyIPv4}
		c.Insert(Entry{Key: key, FetchedAt: time.Now(), TTL: time.Minute})
	}
	assert.Equal(t, 2, c.Len())

	_, ok := c.Lookup(Key{Host: "a", Family: FamilyIPv4})
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestHostCacheFlushNetwork(t *testing.T) {
	c := NewHostCache(10)
	binding := engine.NewNetworkBinding()
	key := Key{Host: "example.com", Family: FamilyIPv4, Binding: binding}
	c.Insert(Entry{Key: key, FetchedAt: time.Now(), TTL: time.Minute, PinnedToNetwork: binding})

	c.FlushNetwork(binding)
	_, ok := c.Lookup(key)
	assert.False(t, ok)
}

func TestHostCacheEvictLRU(t *testing.T) {
	c := NewHostCache(10)
	for i := 0; i < 5; i++ {
		key := Key{Host: string(rune('a' + i)), Family: FamilyIPv4}
		c.Insert(Entry{Key: key, FetchedAt: time.Now(), TTL: time.Minute})
	}
	evicted := c.EvictLRU(3)
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 2, c.Len())
}

func TestHostCacheSnapshot(t *testing.T) {
	c := NewHostCache(10)
	c.Insert(Entry{Key: Key{Host: "a", Family: FamilyIPv4}, FetchedAt: time.Now(), TTL: time.Minute})
	c.Insert(Entry{Key: Key{Host: "b", Family: FamilyIPv4}, FetchedAt: time.Now(), TTL: time.Minute})
	assert.Len(t, c.Snapshot(), 2)
}
