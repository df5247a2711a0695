// Package worker runs dashboard refreshes outside the request path: the
// scheduled refresh job and the Pub/Sub trigger.
package worker

import (
	"time"

	"github.com/weatherdash/weatherdash/internal/location"
)

// RefreshConfig holds configuration for the dashboard refresh job.
type RefreshConfig struct {
	// Timeout bounds one refresh, including every provider call.
	// Default: 30 seconds
	Timeout time.Duration

	// HealthCheckTimeout bounds a health check refresh.
	// Default: 10 seconds
	HealthCheckTimeout time.Duration
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Timeout:            30 * time.Second,
		HealthCheckTimeout: 10 * time.Second,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	d := DefaultRefreshConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	return c
}

// RefreshMessage is a job message delivered over Pub/Sub.
type RefreshMessage struct {
	JobType string `json:"job_type"`

	// Lat and Lon optionally move the dashboard before refreshing.
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

// Coordinates returns the message location, if it carries a complete one.
func (m RefreshMessage) Coordinates() (location.Coordinates, bool) {
	if m.Lat == nil || m.Lon == nil {
		return location.Coordinates{}, false
	}
	return location.Coordinates{Lat: *m.Lat, Lon: *m.Lon}, true
}
