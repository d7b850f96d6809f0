package metrics

import (
	"strconv"
	"time"

	"github.com/pagegate/pagegate/internal/observability"
)

// Gateway metric names
const (
	UpstreamCallsTotal    = "pagegate_graph_upstream_calls_total"
	RateLimitedTotal      = "pagegate_graph_rate_limited_total"
	CooldownRemaining     = "pagegate_graph_cooldown_remaining_seconds"
	GovernorWaitDuration  = "pagegate_graph_governor_wait_ms"
	DuplicatesTotal       = "pagegate_graph_duplicates_total"
	CredentialResolutions = "pagegate_credential_resolutions_total"
	UploadPhaseFailures   = "pagegate_graph_upload_phase_failures_total"
)

// Rate-limit sources
const (
	RateLimitSourceCooldown = "cooldown"
	RateLimitSourceUpstream = "upstream"
)

// RecordUpstreamCall counts one exchange with the upstream. Status 0 marks a
// transport failure.
func RecordUpstreamCall(class string, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	statusLabel := "transport_error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamCallsTotal,
		1,
		map[string]string{
			"class":  class,
			"status": statusLabel,
		},
	)
}

// RecordRateLimited counts a RATE_LIMIT outcome by where it came from.
func RecordRateLimited(source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitedTotal,
			1,
			map[string]string{"source": source},
		)
	}
}

// SetCooldownRemaining publishes the remaining cooldown.
func SetCooldownRemaining(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(CooldownRemaining, d.Seconds(), nil)
	}
}

// RecordGovernorWait records how long a caller was held for its slot.
func RecordGovernorWait(class string, wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			GovernorWaitDuration,
			wait,
			map[string]string{"class": class},
		)
	}
}

// RecordDuplicate counts a submission rejected by the duplicate guard.
func RecordDuplicate(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			DuplicatesTotal,
			1,
			map[string]string{"kind": kind},
		)
	}
}

// RecordCredentialResolution counts resolver outcomes. An empty strategy means no
// source produced a credential.
func RecordCredentialResolution(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialResolutions,
			1,
			map[string]string{"strategy": strategy},
		)
	}
}

// RecordUploadPhaseFailure counts large-media uploads that stopped at phase.
func RecordUploadPhaseFailure(phase string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UploadPhaseFailures,
			1,
			map[string]string{"phase": phase},
		)
	}
}
