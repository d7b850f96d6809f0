package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultDuplicateWindow is how long identical submissions are suppressed.
const DefaultDuplicateWindow = time.Hour

type fingerprint struct {
	at          time.Time
	kind        string
	resourceKey string
	hash        string
}

// Guard rejects resubmission of identical content for the same kind and resource within
// a rolling window. It is advisory: a failure between check and delivery still allows a
// true duplicate.
type Guard struct {
	State  *State
	Window time.Duration
}

// NewGuard returns a guard over state. A non-positive window uses the default.
func NewGuard(state *State, window time.Duration) *Guard {
	return &Guard{State: state, Window: window}
}

// IsDuplicate reports whether content was already submitted within the guard window,
// recording it when it was not.
func (g *Guard) IsDuplicate(kind, resourceKey, content string) bool {
	window := DefaultDuplicateWindow
	if g != nil && g.Window > 0 {
		window = g.Window
	}
	return g.IsDuplicateWithin(kind, resourceKey, content, window)
}

// IsDuplicateWithin is IsDuplicate with an explicit window.
func (g *Guard) IsDuplicateWithin(kind, resourceKey, content string, window time.Duration) bool {
	if g == nil || g.State == nil {
		return false
	}
	hash := ContentHash(content)

	s := g.State
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.fingerprints[:0]
	for _, fp := range s.fingerprints {
		if now.Sub(fp.at) <= window {
			kept = append(kept, fp)
		}
	}
	s.fingerprints = kept

	for _, fp := range s.fingerprints {
		if fp.kind == kind && fp.resourceKey == resourceKey && fp.hash == hash {
			return true
		}
	}

	s.fingerprints = append(s.fingerprints, fingerprint{
		at:          now,
		kind:        kind,
		resourceKey: resourceKey,
		hash:        hash,
	})
	return false
}

// ContentHash is the hex SHA-256 of the trimmed content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
