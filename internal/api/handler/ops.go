package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/api/models"
	"github.com/weatherdash/weatherdash/internal/api/response"
	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
)

const dependencyTimeout = 2 * time.Second

// StatusReader exposes the dashboard status.
type StatusReader interface {
	Status() dashboard.Status
}

// ProviderHealthReader reports upstream circuit breaker health.
type ProviderHealthReader interface {
	GetAllHealth() []*resilience.ProviderHealth
}

// CacheReporter reports the state of a provider response cache.
type CacheReporter interface {
	CacheStatus() airquality.CacheStatus
}

// RefreshStats reports refresh job counters.
type RefreshStats interface {
	MetricsSnapshot() map[string]interface{}
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies of the operational endpoints. Everything
// except Dashboard is optional.
type OpsConfig struct {
	Version   string
	BuildTime string

	Dashboard StatusReader
	Providers ProviderHealthReader
	Caches    []CacheReporter
	Refresh   RefreshStats

	// Dependencies are pinged by the readiness and status checks, keyed by
	// subsystem name.
	Dependencies map[string]Pinger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpsHandler{cfg: cfg, now: now}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once a
// snapshot is published and every dependency answers.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	st := h.cfg.Dashboard.Status()
	details := map[string]interface{}{
		"hasSnapshot": st.HasSnapshot,
		"loading":     st.Loading,
	}

	ready := st.HasSnapshot
	for _, sub := range h.subsystems(r.Context()) {
		if sub.Status != models.HealthStatusOK {
			ready = false
			details[sub.Name] = *sub.Detail
		}
	}

	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(h.now()),
		Details: details,
	}
	status := http.StatusOK
	if !ready {
		health.Status = models.HealthStatusFail
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - dashboard, subsystem and provider
// status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	st := h.cfg.Dashboard.Status()

	out := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.now()),
		Dashboard:  st,
		Subsystems: h.subsystems(r.Context()),
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.Providers != nil {
		for _, ph := range h.cfg.Providers.GetAllHealth() {
			out.Providers = append(out.Providers, providerStatus(ph))
		}
	}
	for _, c := range h.cfg.Caches {
		out.Caches = append(out.Caches, cacheStatus(c.CacheStatus()))
	}
	if h.cfg.Refresh != nil {
		out.Refresh = h.cfg.Refresh.MetricsSnapshot()
	}

	out.Status = overallStatus(st, out.Subsystems, out.Providers)
	response.JSON(w, r, http.StatusOK, out)
}

func (h *OpsHandler) subsystems(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.cfg.Dependencies))
	for name := range h.cfg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, dependencyTimeout)
	defer cancel()

	out := make([]models.SubsystemStatus, 0, len(names))
	for _, name := range names {
		sub := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err := h.cfg.Dependencies[name].Ping(ctx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
		}
		out = append(out, sub)
	}
	return out
}

// overallStatus fails without a snapshot or with a failing store, and is
// degraded while data is stale, a refresh failed or a provider is unhealthy.
func overallStatus(st dashboard.Status, subs []models.SubsystemStatus, providers []models.ProviderStatus) models.HealthStatus {
	if !st.HasSnapshot {
		return models.HealthStatusFail
	}
	for _, s := range subs {
		if s.Status == models.HealthStatusFail {
			return models.HealthStatusFail
		}
	}

	status := models.HealthStatusOK
	if st.Stale || st.LastError != nil {
		status = models.HealthStatusDegraded
	}
	for _, p := range providers {
		if p.Status != models.HealthStatusOK {
			status = models.HealthStatusDegraded
		}
	}
	return status
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	out := models.ProviderStatus{
		Provider:            ph.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        ph.CircuitState.String(),
		ConsecutiveFailures: ph.Counts.ConsecutiveFailures,
		Trips:               ph.Trips,
		StateChangedAt:      models.TimestampPtr(ph.StateChangedAt),
		LastSuccessAt:       models.TimestampPtr(ph.LastSuccessAt),
		LastFailureAt:       models.TimestampPtr(ph.LastFailureAt),
	}
	switch {
	case ph.IsUnhealthy():
		out.Status = models.HealthStatusFail
	case ph.IsDegraded():
		out.Status = models.HealthStatusDegraded
	}
	if ph.LastError != "" {
		msg := ph.LastError
		out.Message = &msg
	}
	return out
}

func cacheStatus(cs airquality.CacheStatus) models.CacheStatus {
	out := models.CacheStatus{
		Provider: cs.Provider,
		HasData:  cs.HasData,
		Expired:  cs.IsExpired,
		Stale:    cs.IsStale,
		Entries:  cs.Readings,
	}
	if cs.HasData {
		out.FetchedAt = models.TimestampPtr(&cs.FetchedAt)
		out.ExpiresAt = models.TimestampPtr(&cs.ExpiresAt)
	}
	return out
}
