package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/engine"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	client *Client
	clock  *testClock
	server *httptest.Server
	calls  atomic.Int32

	mu    sync.Mutex
	slept []time.Duration
}

func (e *testEnv) sleep(_ context.Context, d time.Duration) error {
	e.mu.Lock()
	e.slept = append(e.slept, d)
	e.mu.Unlock()
	e.clock.Advance(d)
	return nil
}

func (e *testEnv) sleeps() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.slept...)
}

// newTestEnv stands up an upstream stub that counts every request it receives.
func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	env := &testEnv{clock: &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(env.server.Close)

	state := engine.NewState()
	state.Clock = env.clock.Now

	client := New(state, core.DefaultThrottle, engine.DefaultDuplicateWindow)
	client.BaseURL = env.server.URL
	client.UploadURL = env.server.URL + "/upload"
	client.Client = env.server.Client()
	client.Sleep = env.sleep
	client.Governor.Sleep = env.sleep
	env.client = client
	return env
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
