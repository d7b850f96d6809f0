package engine

import (
	"context"
	"strings"
	"time"

	"github.com/pagegate/pagegate/internal/core"
)

// Governor paces outgoing calls globally and per resource context. It never rejects,
// it only delays the calling goroutine.
type Governor struct {
	State    *State
	Throttle core.ThrottleConfig
	Sleep    SleepFunc
}

// NewGovernor returns a governor over state with the given spacing.
func NewGovernor(state *State, throttle core.ThrottleConfig) *Governor {
	return &Governor{State: state, Throttle: throttle}
}

// AwaitSlot blocks until a call for contextKey may be issued and returns how long it
// waited. Every call also counts against the global context.
//
// The slot is reserved under the lock and slept for outside it, so concurrent callers
// queue behind each other's reservations instead of all waking at the same instant.
func (g *Governor) AwaitSlot(ctx context.Context, contextKey string) (time.Duration, error) {
	if g == nil || g.State == nil {
		return 0, nil
	}

	key := strings.TrimSpace(contextKey)
	if key == "" {
		key = core.ContextGlobal
	}

	s := g.State
	s.mu.Lock()
	if s.lastCall == nil {
		s.lastCall = make(map[string]time.Time)
	}
	now := s.now()
	slot := now
	if last, ok := s.lastCall[key]; ok {
		slot = later(slot, last.Add(g.gap(key)))
	}
	if last, ok := s.lastCall[core.ContextGlobal]; ok {
		slot = later(slot, last.Add(g.Throttle.GlobalMinInterval))
	}
	s.lastCall[key] = slot
	s.lastCall[core.ContextGlobal] = slot
	s.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return 0, nil
	}
	if err := g.sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// LastCall returns when the most recent call for contextKey was (or will be) issued.
func (g *Governor) LastCall(contextKey string) (time.Time, bool) {
	if g == nil || g.State == nil {
		return time.Time{}, false
	}
	g.State.mu.Lock()
	defer g.State.mu.Unlock()
	last, ok := g.State.lastCall[contextKey]
	return last, ok
}

func (g *Governor) gap(key string) time.Duration {
	if strings.HasPrefix(key, core.ResourceContextPrefix) {
		return g.Throttle.PerResourceMinInterval
	}
	return g.Throttle.GlobalMinInterval
}

func (g *Governor) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
