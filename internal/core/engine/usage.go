package engine

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pagegate/pagegate/internal/core"
)

const (
	// CriticalUsage triggers the long cooldown.
	CriticalUsage = 90.0
	// HighUsage triggers the short cooldown.
	HighUsage = 80.0

	CriticalCooldown = 300 * time.Second
	HighCooldown     = 120 * time.Second
)

// Known usage header names. Lookup ignores case.
var (
	appUsageHeaders      = []string{"X-App-Usage"}
	resourceUsageHeaders = []string{"X-Page-Usage"}
)

// Tracker reads usage telemetry from upstream responses and maintains the cooldown.
type Tracker struct {
	State *State
}

// NewTracker returns a tracker over state.
func NewTracker(state *State) *Tracker {
	return &Tracker{State: state}
}

// RecordResponse parses usage headers and pushes the cooldown forward when utilization
// crosses a threshold. Missing or malformed telemetry is ignored.
func (t *Tracker) RecordResponse(header http.Header) {
	if t == nil || t.State == nil || len(header) == 0 {
		return
	}

	appRaw := lookupHeader(header, appUsageHeaders)
	resourceRaw := lookupHeader(header, resourceUsageHeaders)
	if appRaw == "" && resourceRaw == "" {
		return
	}

	app := parseUsage(appRaw)
	resource := parseUsage(resourceRaw)

	s := t.State
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastUsage = core.UsageSnapshot{
		App:         app,
		Resource:    resource,
		AppRaw:      appRaw,
		ResourceRaw: resourceRaw,
		ObservedAt:  now,
	}

	for _, usage := range []*core.UsageIndicator{app, resource} {
		if usage == nil {
			continue
		}
		top := usage.Top()
		switch {
		case top >= CriticalUsage:
			s.extendCooldownLocked(now.Add(CriticalCooldown))
		case top >= HighUsage:
			s.extendCooldownLocked(now.Add(HighCooldown))
		}
	}
}

// ExtendCooldown sets the cooldown to at least now+d.
func (t *Tracker) ExtendCooldown(d time.Duration) {
	if t == nil || t.State == nil || d <= 0 {
		return
	}
	s := t.State
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extendCooldownLocked(s.now().Add(d))
}

// RemainingCooldown returns how long outgoing calls must still be held back.
func (t *Tracker) RemainingCooldown() time.Duration {
	if t == nil || t.State == nil {
		return 0
	}
	s := t.State
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

// CooldownUntil returns the current cooldown deadline.
func (t *Tracker) CooldownUntil() time.Time {
	if t == nil || t.State == nil {
		return time.Time{}
	}
	t.State.mu.Lock()
	defer t.State.mu.Unlock()
	return t.State.cooldownUntil
}

// Snapshot returns the last usage telemetry together with the remaining cooldown.
func (t *Tracker) Snapshot() core.UsageSnapshot {
	if t == nil || t.State == nil {
		return core.UsageSnapshot{}
	}
	s := t.State
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.lastUsage
	if snapshot.App != nil {
		app := *snapshot.App
		snapshot.App = &app
	}
	if snapshot.Resource != nil {
		resource := *snapshot.Resource
		snapshot.Resource = &resource
	}
	snapshot.CooldownRemaining = s.remainingLocked()
	return snapshot
}

func (s *State) extendCooldownLocked(until time.Time) {
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

func (s *State) remainingLocked() time.Duration {
	remaining := s.cooldownUntil.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func lookupHeader(header http.Header, names []string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
		for key, values := range header {
			if strings.EqualFold(key, name) && len(values) > 0 {
				if value := strings.TrimSpace(values[0]); value != "" {
					return value
				}
			}
		}
	}
	return ""
}

func parseUsage(raw string) *core.UsageIndicator {
	if raw == "" {
		return nil
	}
	var usage core.UsageIndicator
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return nil
	}
	return &usage
}
