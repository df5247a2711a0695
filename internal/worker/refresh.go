package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/location"
)

// Dashboard is the part of the dashboard service the worker drives.
type Dashboard interface {
	Refresh(ctx context.Context) (*dashboard.Snapshot, error)
	SetLocation(coords location.Coordinates) error
	Snapshot() *dashboard.Snapshot
}

// RefreshJob handles dashboard refresh operations.
type RefreshJob struct {
	config    RefreshConfig
	logger    zerolog.Logger
	dashboard Dashboard
	now       func() time.Time

	metrics    *RefreshMetrics
	collectors *collectors
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64
	SupersededRefreshes int64

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration

	// Last failure
	LastError     string
	LastErrorKind dashboard.ErrorKind
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config    RefreshConfig
	Logger    zerolog.Logger
	Dashboard Dashboard

	// Registerer receives the Prometheus collectors. When nil they are
	// registered on a private registry and only the in-process metrics are
	// observable.
	Registerer prometheus.Registerer

	// Now overrides the clock (tests).
	Now func() time.Time
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	j := &RefreshJob{
		config:    cfg.Config.withDefaults(),
		logger:    cfg.Logger,
		dashboard: cfg.Dashboard,
		now:       now,
		metrics:   &RefreshMetrics{},
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	j.collectors = newCollectors(reg, j.snapshotAge)

	return j
}

// RefreshResult contains the result of a refresh operation.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Seq and Warnings describe the published snapshot.
	Seq      uint64
	Warnings int

	// Superseded is set when a newer refresh was published first.
	Superseded bool

	Err error
}

// Succeeded reports whether the refresh did not fail. A superseded refresh
// succeeded: newer data was published instead.
func (r *RefreshResult) Succeeded() bool {
	return r.Err == nil
}

// Run refreshes the dashboard at its current location.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.run(ctx, j.config.Timeout)
}

// RunAt moves the dashboard to coords and refreshes it.
func (j *RefreshJob) RunAt(ctx context.Context, coords location.Coordinates) *RefreshResult {
	if err := j.dashboard.SetLocation(coords); err != nil {
		start := j.now()
		result := &RefreshResult{StartTime: start, EndTime: start, Err: err}
		j.updateMetrics(result)
		return result
	}
	return j.run(ctx, j.config.Timeout)
}

// HealthCheck runs one refresh with the shorter health check timeout.
func (j *RefreshJob) HealthCheck(ctx context.Context) error {
	result := j.run(ctx, j.config.HealthCheckTimeout)
	if result.Err != nil {
		return fmt.Errorf("health check failed: %w", result.Err)
	}
	return nil
}

func (j *RefreshJob) run(ctx context.Context, timeout time.Duration) *RefreshResult {
	start := j.now()
	result := &RefreshResult{StartTime: start}

	j.logger.Debug().
		Dur("timeout", timeout).
		Msg("starting dashboard refresh job")

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := j.dashboard.Refresh(runCtx)
	switch {
	case err == nil:
		result.Seq = snap.Seq
		result.Warnings = len(snap.Warnings)
	case errors.Is(err, dashboard.ErrSuperseded):
		result.Superseded = true
	default:
		result.Err = err
	}

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(start)

	j.updateMetrics(result)

	if result.Err != nil {
		j.logger.Error().Err(result.Err).
			Str("kind", string(dashboard.Classify(result.Err))).
			Dur("duration", result.Duration).
			Msg("dashboard refresh job failed")
	} else {
		j.logger.Info().
			Uint64("seq", result.Seq).
			Int("warnings", result.Warnings).
			Bool("superseded", result.Superseded).
			Dur("duration", result.Duration).
			Msg("dashboard refresh job completed")
	}

	return result
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	label := resultSuccess
	switch {
	case result.Err != nil:
		label = resultFailure
	case result.Superseded:
		label = resultSuperseded
	}
	j.collectors.refreshes.WithLabelValues(label).Inc()
	j.collectors.duration.Observe(result.Duration.Seconds())

	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	switch label {
	case resultFailure:
		j.metrics.FailedRefreshes++
		j.metrics.LastError = result.Err.Error()
		j.metrics.LastErrorKind = dashboard.Classify(result.Err)
	case resultSuperseded:
		j.metrics.SupersededRefreshes++
	default:
		j.metrics.SuccessfulRefreshes++
	}
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// snapshotAge returns the age of the published snapshot in seconds, or 0
// before the first one.
func (j *RefreshJob) snapshotAge() float64 {
	snap := j.dashboard.Snapshot()
	if snap == nil {
		return 0
	}
	return snap.Age(j.now()).Seconds()
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefreshes: j.metrics.SuccessfulRefreshes,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		SupersededRefreshes: j.metrics.SupersededRefreshes,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
		LastError:           j.metrics.LastError,
		LastErrorKind:       j.metrics.LastErrorKind,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefreshes,
		"failed_refreshes":      m.FailedRefreshes,
		"superseded_refreshes":  m.SupersededRefreshes,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
		"last_error":            m.LastError,
		"last_error_kind":       m.LastErrorKind,
	}
}
