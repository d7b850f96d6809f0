package integration

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/credentials"
	"github.com/pagegate/pagegate/internal/core/engine"
	"github.com/pagegate/pagegate/internal/core/graph"
	"github.com/pagegate/pagegate/internal/core/pages"
	"github.com/pagegate/pagegate/internal/core/store"
	"github.com/pagegate/pagegate/internal/observability"
	"github.com/pagegate/pagegate/internal/server"
	"github.com/pagegate/pagegate/internal/server/handlers"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

// listenOrSkip binds to IPv4 loopback explicitly (avoiding IPv6-only defaults)
// and skips when the sandbox refuses to open sockets.
func listenOrSkip(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// fakeUpstream plays the graph API for page p1.
type fakeUpstream struct {
	calls atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-App-Usage", `{"call_count":10,"total_time":5,"total_cputime":3}`)

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/p1/feed" && r.FormValue("message") == "boom":
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","code":4}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/p1/feed":
		_, _ = io.WriteString(w, `{"id":"p1_99"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/p1_99":
		_, _ = io.WriteString(w, `{"id":"p1_99","permalink_url":"https://example.test/p1_99"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"unknown path"}}`)
	}
}

func newGateway(t *testing.T, upstreamURL string) *server.Server {
	t.Helper()

	client := graph.New(engine.NewState(), core.ThrottleConfig{
		GlobalMinInterval:      time.Millisecond,
		PerResourceMinInterval: time.Millisecond,
	}, time.Hour)
	client.BaseURL = upstreamURL

	env, err := credentials.ParseEnvMap("p1|page-token-1")
	require.NoError(t, err)
	fileStore, err := store.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	resolver := credentials.NewDefaultResolver(env, fileStore, client)
	return server.New(server.Options{Host: "127.0.0.1"}, server.Dependencies{
		Pages:  pages.NewService(client, resolver, ""),
		Usage:  client,
		Health: handlers.NewHealthManager("test"),
	})
}

func postJSON(t *testing.T, client *http.Client, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestGatewayPublishGuardAndCooldown(t *testing.T) {
	observability.InitCLILogger("test", false)

	upstream := &fakeUpstream{}
	upstreamServer := listenOrSkip(t, upstream)
	ts := listenOrSkip(t, newGateway(t, upstreamServer.URL).Handler())
	client := ts.Client()

	resp, body := postJSON(t, client, ts.URL+"/api/pages/p1/post", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "p1_99", body["id"])
	assert.Equal(t, "https://example.test/p1_99", body["permalink_url"])
	assert.Equal(t, int32(2), upstream.calls.Load())

	resp, body = postJSON(t, client, ts.URL+"/api/pages/p1/post", `{"message":"hello"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_CONTENT", body["error"].(map[string]any)["code"])
	assert.Equal(t, int32(2), upstream.calls.Load())

	resp, body = postJSON(t, client, ts.URL+"/api/pages/p1/post", `{"message":"boom"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT", body["error"].(map[string]any)["code"])
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
	assert.Equal(t, int32(3), upstream.calls.Load())

	usageResp, err := client.Get(ts.URL + "/api/usage")
	require.NoError(t, err)
	var usage handlers.UsageResponse
	require.NoError(t, json.NewDecoder(usageResp.Body).Decode(&usage))
	require.NoError(t, usageResp.Body.Close())
	assert.Greater(t, usage.CooldownRemaining, 100)
	require.NotNil(t, usage.LastUsage)
	require.NotNil(t, usage.LastUsage.App)
	assert.Equal(t, 10.0, usage.LastUsage.App.CallCount)

	resp, body = postJSON(t, client, ts.URL+"/api/pages/p1/post", `{"message":"later"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT", body["error"].(map[string]any)["code"])
	assert.Equal(t, int32(3), upstream.calls.Load(), "cooldown must short-circuit before the upstream")
}

func TestGatewayUnknownPageHasNoCredential(t *testing.T) {
	upstreamServer := listenOrSkip(t, &fakeUpstream{})
	ts := listenOrSkip(t, newGateway(t, upstreamServer.URL).Handler())

	resp, body := postJSON(t, ts.Client(), ts.URL+"/api/pages/p2/post", `{"message":"hi"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NO_CREDENTIAL", body["error"].(map[string]any)["code"])
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	initMetricsOrSkip(t)

	upstreamServer := listenOrSkip(t, &fakeUpstream{})
	ts := listenOrSkip(t, newGateway(t, upstreamServer.URL).Handler())
	client := ts.Client()

	const numRequests = 40
	const numWorkers = 8

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for reqNum := range requestChan {
				var resp *http.Response
				var err error
				switch reqNum % 3 {
				case 0:
					resp, err = client.Get(ts.URL + "/api/usage")
				case 1:
					resp, err = client.Get(ts.URL + "/health/live")
				default:
					resp, err = client.Get(ts.URL + "/api/pages/p1/info")
				}
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "test_pagegate_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, metricsContent, "pagegate_graph_upstream_calls_total", "Should have upstream call metrics")
	assert.Contains(t, metricsContent, "pagegate_operations_total", "Should have page operation metrics")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	upstreamServer := listenOrSkip(t, &fakeUpstream{})
	ts := listenOrSkip(t, newGateway(t, upstreamServer.URL).Handler())

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
