package core

import "time"

// ContextGlobal is the throttle context every outgoing call passes through.
const ContextGlobal = "global"

// ResourceContextPrefix marks a per-resource throttle context.
const ResourceContextPrefix = "page:"

// ResourceContext returns the throttle context key for a managed page.
func ResourceContext(resourceID string) string {
	return ResourceContextPrefix + resourceID
}

// Response is a successful upstream exchange.
type Response struct {
	StatusCode int            `json:"status_code"`
	Body       map[string]any `json:"body"`
}

// String returns a top-level string field from the body, tolerating numeric ids.
func (r *Response) String(key string) string {
	if r == nil {
		return ""
	}
	return StringField(r.Body, key)
}

// StringField reads a string-ish field from a decoded JSON object.
func StringField(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	switch v := body[key].(type) {
	case string:
		return v
	case float64:
		return formatNumber(v)
	case nil:
		return ""
	default:
		return ""
	}
}

// UsageSnapshot is the most recent usage telemetry seen on an upstream response.
type UsageSnapshot struct {
	App               *UsageIndicator `json:"app,omitempty"`
	Resource          *UsageIndicator `json:"page,omitempty"`
	AppRaw            string          `json:"app_raw,omitempty"`
	ResourceRaw       string          `json:"page_raw,omitempty"`
	ObservedAt        time.Time       `json:"observed_at,omitempty"`
	CooldownRemaining time.Duration   `json:"cooldown_remaining"`
}

// Page is a managed resource with its resolved credential.
type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}
