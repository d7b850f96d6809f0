package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pagegate/pagegate/internal/core"
)

// State is the process-wide mutable gateway state shared by the Tracker, Governor and
// Guard. All fields are guarded by mu.
type State struct {
	mu sync.Mutex

	cooldownUntil time.Time
	lastUsage     core.UsageSnapshot
	lastCall      map[string]time.Time
	fingerprints  []fingerprint

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewState returns an empty state.
func NewState() *State {
	return &State{lastCall: make(map[string]time.Time)}
}

func (s *State) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
