// Package handlers_test provides behavior tests for the API handlers package.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/api/handlers"
	"github.com/meridian-net/netengine/internal/api/models"
	"github.com/meridian-net/netengine/internal/httpcache"
	"github.com/meridian-net/netengine/internal/pins"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Host cache endpoint tests
// ============================================================================

func TestListHostCache_NotConfigured(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/hostcache", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListHostCache_ReturnsEntries(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	hc := resolver.NewHostCache(16)
	hc.Insert(resolver.Entry{
		Key:       resolver.Key{Host: "example.com", Family: resolver.FamilyIPv4},
		Resolved:  []resolver.Endpoint{{IP: net.ParseIP("93.184.216.34")}},
		FetchedAt: time.Now(),
		TTL:       30 * time.Second,
		Source:    resolver.SourceBuiltin,
	})
	h.SetHostCache(hc)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/hostcache", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.HostCacheResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "example.com", resp.Entries[0].Host)
	assert.Equal(t, "fresh", resp.Entries[0].State)
}

func TestEvictHostCache_EvictsRequestedCount(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	hc := resolver.NewHostCache(16)
	for _, host := range []string{"a.com", "b.com", "c.com"} {
		hc.Insert(resolver.Entry{
			Key:       resolver.Key{Host: host, Family: resolver.FamilyIPv4},
			Resolved:  []resolver.Endpoint{{IP: net.ParseIP("1.2.3.4")}},
			FetchedAt: time.Now(),
			TTL:       30 * time.Second,
		})
	}
	h.SetHostCache(hc)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodPost, "/api/v1/engine/hostcache/evict?n=2", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EvictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Evicted)
	assert.Equal(t, 1, hc.Len())
}

// ============================================================================
// Session pool endpoint tests
// ============================================================================

func TestListSessions_NotConfigured(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListSessions_ReturnsEmptyPool(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	pool := session.NewPool(func(ctx context.Context, key session.Key, http3OK bool) (session.Transport, error) {
		return nil, context.Canceled
	}, nil)
	h.SetSessionPool(pool)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.SessionPoolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

// ============================================================================
// NetLog endpoint tests
// ============================================================================

func TestNetLogStatus_InitiallyInactive(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/netlog", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.NetLogStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
}

func TestStartStopNetLog(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	path := t.TempDir() + "/netlog.json"
	body, err := json.Marshal(models.NetLogStartRequest{Path: path})
	require.NoError(t, err)

	w := performRequest(r, http.MethodPost, "/api/v1/engine/netlog/start", string(body))
	assert.Equal(t, http.StatusOK, w.Code)

	var started models.NetLogStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.True(t, started.Active)

	w = performRequest(r, http.MethodPost, "/api/v1/engine/netlog/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var stopped models.NetLogStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.False(t, stopped.Active)
}

// ============================================================================
// Pin store endpoint tests
// ============================================================================

func TestListPins_NotConfigured(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/pins", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListAndGetPins(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	store := pins.NewStore()
	store.Add(&pins.PinSet{
		Hostname:          "example.com",
		IncludeSubdomains: true,
		SPKIHashes:        map[string]struct{}{"abc123=": {}},
	})
	h.SetPinStore(store)
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/engine/pins", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var list models.PinsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "example.com", list.Hostnames[0])

	w = performRequest(r, http.MethodGet, "/api/v1/engine/pins/example.com", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var set models.PinSetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.True(t, set.IncludeSubdomains)
	assert.Contains(t, set.SPKIHashes, "abc123=")

	w = performRequest(r, http.MethodGet, "/api/v1/engine/pins/unknown.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============================================================================
// Cache stats wiring test
// ============================================================================

func TestStats_IncludesCacheWhenConfigured(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	h.SetCache(httpcache.NewMemoryCache(1 << 20))
	r := setupTestRouter(h)

	w := performRequest(r, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EngineStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Cache)
	assert.Zero(t, resp.Cache.Entries)
}

// ============================================================================
// Handler initialization tests
// ============================================================================

func TestHandler_New(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	assert.NotNil(t, h)
}

func TestHandler_NewPanicsOnNilEngine(t *testing.T) {
	assert.Panics(t, func() {
		handlers.New(nil, nil)
	})
}
