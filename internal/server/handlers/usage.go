package handlers

import (
	"math"
	"net/http"
	"time"

	"github.com/pagegate/pagegate/internal/core"
)

// UsageSource exposes the executor's last usage telemetry.
type UsageSource interface {
	CurrentUsageSnapshot() core.UsageSnapshot
}

// UsageResponse is the body of GET /api/usage.
type UsageResponse struct {
	// CooldownRemaining is in whole seconds, rounded up.
	CooldownRemaining int        `json:"cooldown_remaining"`
	LastUsage         *LastUsage `json:"last_usage,omitempty"`
}

// LastUsage is the most recent telemetry header pair seen upstream.
type LastUsage struct {
	App        *core.UsageIndicator `json:"app,omitempty"`
	Page       *core.UsageIndicator `json:"page,omitempty"`
	AppRaw     string               `json:"app_raw,omitempty"`
	PageRaw    string               `json:"page_raw,omitempty"`
	ObservedAt time.Time            `json:"observed_at"`
}

// UsageHandler reports the cooldown and the last usage telemetry.
func UsageHandler(source UsageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := source.CurrentUsageSnapshot()

		resp := UsageResponse{CooldownRemaining: ceilSeconds(snapshot.CooldownRemaining)}
		if !snapshot.ObservedAt.IsZero() {
			resp.LastUsage = &LastUsage{
				App:        snapshot.App,
				Page:       snapshot.Resource,
				AppRaw:     snapshot.AppRaw,
				PageRaw:    snapshot.ResourceRaw,
				ObservedAt: snapshot.ObservedAt.UTC(),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
