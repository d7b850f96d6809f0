package metrics

import (
	"time"

	"github.com/pagegate/pagegate/internal/observability"
)

// Gateway-level metrics following Prometheus conventions
var (
	// Page operation metrics
	OperationsTotal       = "pagegate_operations_total"
	OperationsErrorsTotal = "pagegate_operations_errors_total"

	// Health check metrics
	HealthCheckTotal    = "pagegate_health_check_total"
	HealthCheckDuration = "pagegate_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "pagegate_server_start_time_seconds"

	// HTTP surface metrics, emitted by the request middleware
	HTTPRequestsTotal     = "pagegate_http_requests_total"
	HTTPRequestDuration   = "pagegate_http_request_duration_ms"
	HTTPRequestSizeBytes  = "pagegate_http_request_size_bytes"
	HTTPResponseSizeBytes = "pagegate_http_response_size_bytes"
	HTTPErrorsTotal       = "pagegate_http_errors_total"
)

// RecordOperation records a page operation outcome.
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsTotal,
			1,
			map[string]string{
				"operation": operation,
				"status":    status,
			},
		)
	}
}

// RecordOperationError records a failed page operation by error kind.
func RecordOperationError(operation string, errorType string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsErrorsTotal,
			1,
			map[string]string{
				"operation":  operation,
				"error_type": errorType,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
