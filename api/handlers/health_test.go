package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 健康检查 Handler 测试
// =============================================================================

func TestHandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHandleHealthz(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadyAllChecksPass(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("state_store", func(ctx context.Context) error { return nil }))
	h.RegisterCheck(NewPingCheck("runstore", func(ctx context.Context) error { return nil }))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "pass", status.Checks["state_store"].Status)
	assert.Equal(t, "pass", status.Checks["runstore"].Status)
	assert.NotEmpty(t, status.Checks["state_store"].Latency)
}

func TestHandleReadyFailingCheck(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("state_store", func(ctx context.Context) error { return nil }))
	h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "pass", status.Checks["state_store"].Status)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.Contains(t, status.Checks["redis"].Message, "connection refused")
}

func TestHandleReadyNoChecks(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code, "没有注册检查时视为就绪")
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	handler := h.HandleVersion("1.2.3", "2026-08-01T00:00:00Z", "abc1234")

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "1.2.3", resp.Data["version"])
	assert.Equal(t, "2026-08-01T00:00:00Z", resp.Data["build_time"])
	assert.Equal(t, "abc1234", resp.Data["git_commit"])
}

func TestPingCheckName(t *testing.T) {
	check := NewPingCheck("cache", func(ctx context.Context) error { return nil })
	assert.Equal(t, "cache", check.Name())
	assert.NoError(t, check.Check(context.Background()))
}
