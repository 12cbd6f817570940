package httpcache

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskCacheStoreAndLookup(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDiskCache(dir, 0, false)
	require.NoError(t, err)
	defer c.Close()

	key := Key{Method: "GET", URL: "https://example.com/a"}
	entry := &Entry{
		Key:               key,
		StatusCode:        200,
		Header:            http.Header{"Content-Type": {"text/plain"}},
		Body:              []byte("hello disk"),
		Validators:        Validators{ETag: `"v1"`},
		FreshnessLifetime: time.Minute,
		StoredAt:          time.Now(),
	}
	require.NoError(t, c.Store(entry))

	got, ok := c.Lookup(key, http.Header{})
	require.True(t, ok)
	assert.Equal(t, "hello disk", string(got.Body))
	assert.Equal(t, `"v1"`, got.Validators.ETag)
}

func TestDiskCacheRefusesSecondOpen(t *testing.T) {
	dir := t.TempDir()
	c1, err := OpenDiskCache(dir, 0, false)
	require.NoError(t, err)
	defer c1.Close()

	_, err = OpenDiskCache(dir, 0, false)
	assert.ErrorIs(t, err, ErrDatabaseLocked)
}

func TestDiskCacheNoHTTPNeverServesBody(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDiskCache(dir, 0, true)
	require.NoError(t, err)
	defer c.Close()

	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("should not persist"), StoredAt: time.Now()}))

	_, ok := c.Lookup(key, http.Header{})
	assert.False(t, ok)
}

func TestDiskCacheInvalidate(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDiskCache(dir, 0, false)
	require.NoError(t, err)
	defer c.Close()

	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("x"), StoredAt: time.Now()}))
	c.Invalidate(key)
	_, ok := c.Lookup(key, http.Header{})
	assert.False(t, ok)
}

func TestDiskCacheVaryVariantsCoexist(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDiskCache(dir, 0, false)
	require.NoError(t, err)
	defer c.Close()

	key := Key{Method: "GET", URL: "https://example.com/a"}
	require.NoError(t, c.Store(&Entry{
		Key: key, Vary: map[string]string{"Accept-Encoding": "gzip"},
		Body: []byte("gzip-body"), StoredAt: time.Now(),
	}))
	require.NoError(t, c.Store(&Entry{
		Key: key, Vary: map[string]string{"Accept-Encoding": "identity"},
		Body: []byte("identity-body"), StoredAt: time.Now(),
	}))

	got, ok := c.Lookup(key, http.Header{"Accept-Encoding": {"gzip"}})
	require.True(t, ok)
	assert.Equal(t, "gzip-body", string(got.Body))

	got, ok = c.Lookup(key, http.Header{"Accept-Encoding": {"identity"}})
	require.True(t, ok)
	assert.Equal(t, "identity-body", string(got.Body))

	assert.Equal(t, int64(2), c.Stats().Entries)
}

func TestDiskCacheEvictsOverBudget(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDiskCache(dir, 20, false)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		key := Key{Method: "GET", URL: filepath.Join("https://example.com", string(rune('a'+i)))}
		require.NoError(t, c.Store(&Entry{Key: key, Body: []byte("0123456789"), StoredAt: time.Now()}))
	}
	stats := c.Stats()
	assert.Less(t, stats.Entries, int64(5))
	assert.Greater(t, stats.Evictions, int64(0))
}
