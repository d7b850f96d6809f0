package engine

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sleeper advances the fake clock instead of blocking.
type sleeper struct {
	clock *fakeClock
	slept []time.Duration
}

func (s *sleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	s.clock.Advance(d)
	return nil
}

func newTestState(clock *fakeClock) *State {
	state := NewState()
	state.Clock = clock.Now
	return state
}

func usageHeader(name, value string) http.Header {
	header := http.Header{}
	header.Set(name, value)
	return header
}
