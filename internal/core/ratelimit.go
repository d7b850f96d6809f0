package core

import (
	"strconv"
	"time"
)

// ThrottleConfig sets the minimum spacing between outgoing calls.
type ThrottleConfig struct {
	GlobalMinInterval      time.Duration `json:"global_min_interval" mapstructure:"global_min_interval"`
	PerResourceMinInterval time.Duration `json:"per_resource_min_interval" mapstructure:"per_resource_min_interval"`
}

// DefaultThrottle matches the upstream's documented comfortable pace.
var DefaultThrottle = ThrottleConfig{
	GlobalMinInterval:      time.Second,
	PerResourceMinInterval: 2 * time.Second,
}

// UsageIndicator carries the utilization percentages reported by the upstream.
type UsageIndicator struct {
	CallCount    float64 `json:"call_count"`
	TotalTime    float64 `json:"total_time"`
	TotalCPUTime float64 `json:"total_cputime"`
}

// Top returns the highest of the three utilization percentages.
func (u UsageIndicator) Top() float64 {
	top := u.CallCount
	if u.TotalTime > top {
		top = u.TotalTime
	}
	if u.TotalCPUTime > top {
		top = u.TotalCPUTime
	}
	return top
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
