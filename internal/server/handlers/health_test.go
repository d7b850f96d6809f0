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
)

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", CheckFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["store"])
}

func TestProbesReturnServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", CheckFunc(func(context.Context) error { return errors.New("down") }))

	handlers := map[string]http.HandlerFunc{
		"aggregate": manager.HealthHandler,
		"live":      manager.LivenessHandler,
		"ready":     manager.ReadinessHandler,
	}
	for probe, handler := range handlers {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, probe)

		var resp struct {
			Error struct {
				Code    string         `json:"code"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
		assert.Equal(t, probe, resp.Error.Details["probe"])
		checks, ok := resp.Error.Details["checks"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, StatusUnhealthy, checks["store"])
	}
}

func TestReadinessProbeOK(t *testing.T) {
	manager := NewHealthManager("dev")
	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProbeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	assert.Equal(t, StatusDegraded, manager.determineOverallStatus(map[string]string{"store": StatusTimeout}))
	assert.Equal(t, StatusUnhealthy, manager.determineOverallStatus(map[string]string{"a": StatusTimeout, "b": StatusUnhealthy}))
}

func TestRunHealthChecksMarksExpiredContext(t *testing.T) {
	manager := NewHealthManager("dev")
	called := false
	manager.RegisterChecker("store", CheckFunc(func(context.Context) error {
		called = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checks := manager.runHealthChecks(ctx)
	assert.Equal(t, StatusTimeout, checks["store"])
	assert.False(t, called)
}
