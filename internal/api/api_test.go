// Package api_test provides behavior tests for the API package.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/api"
	"github.com/meridian-net/netengine/internal/api/models"
	"github.com/meridian-net/netengine/internal/engine"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func performRequest(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Server Creation Tests
// ============================================================================

func TestNew_CreatesServer(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	assert.NotNil(t, server)
}

func TestNew_PanicsOnNilEngine(t *testing.T) {
	assert.Panics(t, func() {
		api.New(nil, "127.0.0.1", 8080, "", "", nil)
	})
}

func TestServer_Addr(t *testing.T) {
	server := api.New(testEngine(t), "0.0.0.0", 9090, "", "", nil)

	assert.Equal(t, "0.0.0.0:9090", server.Addr())
}

func TestServer_Engine(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	ginEngine := server.Engine()

	assert.NotNil(t, ginEngine)
}

// ============================================================================
// Routes Tests
// ============================================================================

func TestRoutes_HealthEndpoint(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestRoutes_StatsEndpoint(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/stats", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EngineStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Uptime)
}

func TestRoutes_EngineIntrospectionEndpoints_NotConfigured(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	// Without SetHostCache/SetSessionPool/SetPinStore, these endpoints
	// return 503, the same way the rest of the introspection surface
	// degrades when a component hasn't been wired in yet.
	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/engine/hostcache", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = performRequest(server.Engine(), http.MethodGet, "/api/v1/engine/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = performRequest(server.Engine(), http.MethodGet, "/api/v1/engine/pins", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_NetLogEndpoint_AlwaysAvailable(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/engine/netlog", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ============================================================================
// API Key Protection Tests
// ============================================================================

func TestRoutes_WithAPIKey_ValidKey(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "secret-key", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()

	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_WithAPIKey_InvalidKey(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "secret-key", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()

	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_WithAPIKey_MissingKey(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "secret-key", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	// No X-API-Key header
	w := httptest.NewRecorder()

	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_NoAPIKey_NoAuth(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ============================================================================
// Server Lifecycle Tests
// ============================================================================

func TestServer_Shutdown(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 0, "", "", nil)

	// Shutdown should not error even if never started
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := server.Shutdown(ctx)
	assert.NoError(t, err)
}

// ============================================================================
// Swagger Endpoint Tests
// ============================================================================

func TestRoutes_SwaggerEndpoint(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	w := performRequest(server.Engine(), http.MethodGet, "/swagger/index.html", "")

	// Swagger UI should be accessible
	assert.Equal(t, http.StatusOK, w.Code)
}

// ============================================================================
// Not Found Tests
// ============================================================================

func TestRoutes_NotFound(t *testing.T) {
	server := api.New(testEngine(t), "127.0.0.1", 8080, "", "", nil)

	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/nonexistent", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
