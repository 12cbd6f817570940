package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/api/handlers"
	"github.com/meridian-net/netengine/internal/api/models"
)

func TestHealth(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestStats(t *testing.T) {
	h := handlers.New(testEngine(t), nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EngineStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Uptime)
	assert.Positive(t, resp.CPU.NumCPU)
	assert.Nil(t, resp.Cache)
}

func TestStats_RequestCountersReflectTraffic(t *testing.T) {
	eng := testEngine(t)
	eng.Stats().RecordRequestStarted()
	eng.Stats().RecordRequestSucceeded()
	eng.Stats().RecordBytesReceived(128)

	h := handlers.New(eng, nil)
	r := setupTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EngineStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Requests.RequestsStarted)
	assert.EqualValues(t, 1, resp.Requests.RequestsSucceeded)
	assert.EqualValues(t, 128, resp.Requests.BytesReceived)
}
