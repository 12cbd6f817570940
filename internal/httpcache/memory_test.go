package httpcache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheStoreAndLookup(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	entry := &Entry{
		Key:               Key{Method: "GET", URL: "https://example.com/a"},
		StatusCode:        200,
		Header:            http.Header{"Content-Type": {"text/plain"}},
		Body:              []byte("hello"),
		FreshnessLifetime: time.Minute,
		StoredAt:          time.Now(),
	}
	require.NoError(t, c.Store(entry))

	got, ok := c.Lookup(entry.Key, http.Header{})
	require.True(t, ok)
	assert.Equal(t, "hello", string(got.Body))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	_, ok := c.Lookup(Key{Method: "GET", URL: "https://example.com/missing"}, http.Header{})
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestMemoryCacheEvictsOverBudget(t *testing.T) {
	c := NewMemoryCache(10)
	for i := 0; i < 5; i++ {
		key := Key{Method: "GET", URL: string(rune('a' + i))}
		require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("0123456789"), StoredAt: time.Now()}))
	}
	stats := c.Stats()
	assert.Less(t, stats.Entries, int64(5))
	assert.Greater(t, stats.Evictions, int64(0))
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("x"), StoredAt: time.Now()}))
	c.Invalidate(key)
	_, ok := c.Lookup(key, http.Header{})
	assert.False(t, ok)
}

func TestMemoryCacheStoreReplacesExisting(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("old"), StoredAt: time.Now()}))
	require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("new"), StoredAt: time.Now()}))

	got, ok := c.Lookup(key, http.Header{})
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))
	assert.Equal(t, int64(1), c.Stats().Entries)
}

func TestMemoryCacheVaryVariantsCoexist(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{Key: key, Vary: map[string]string{"Accept-Encoding": "gzip"}, Body: []byte("gzip-body"), StoredAt: time.Now()}))
	require.NoError(t, c.Store(&Entry{Key: key, Vary: map[string]string{"Accept-Encoding": "identity"}, Body: []byte("identity-body"), StoredAt: time.Now()}))

	got, ok := c.Lookup(key, http.Header{"Accept-Encoding": {"gzip"}})
	require.True(t, ok)
	assert.Equal(t, "gzip-body", string(got.Body))

	got, ok = c.Lookup(key, http.Header{"Accept-Encoding": {"identity"}})
	require.True(t, ok)
	assert.Equal(t, "identity-body", string(got.Body))

	assert.Equal(t, int64(2), c.Stats().Entries)
}
