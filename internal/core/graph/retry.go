package graph

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryAfter reads the Retry-After seconds hint of a 429, falling back to the
// default when absent or malformed.
func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return defaultRetryAfter
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
