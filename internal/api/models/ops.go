package models

import "github.com/weatherdash/weatherdash/internal/dashboard"

// HealthStatus is the rollup reported by health and status endpoints.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status     HealthStatus           `json:"status"`
	Time       Timestamp              `json:"time"`
	Dashboard  dashboard.Status       `json:"dashboard"`
	Subsystems []SubsystemStatus      `json:"subsystems,omitempty"`
	Providers  []ProviderStatus       `json:"providers"`
	Caches     []CacheStatus          `json:"caches,omitempty"`
	Refresh    map[string]interface{} `json:"refresh,omitempty"`
}

// SubsystemStatus represents the status of a backing store.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the circuit breaker state of an upstream API.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	Trips               uint32       `json:"trips"`
	StateChangedAt      *Timestamp   `json:"stateChangedAt,omitempty"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}

// CacheStatus describes a provider response cache.
type CacheStatus struct {
	Provider  string     `json:"provider"`
	HasData   bool       `json:"hasData"`
	FetchedAt *Timestamp `json:"fetchedAt,omitempty"`
	ExpiresAt *Timestamp `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired"`
	Stale     bool       `json:"stale"`
	Entries   int        `json:"entries"`
}
