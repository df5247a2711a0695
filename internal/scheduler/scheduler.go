// Package scheduler fires the dashboard timers on clock boundaries: a minute
// tick that recomputes the view and an hourly refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/worker"
)

// Default schedules, with a leading seconds field.
const (
	DefaultTickSpec    = "0 * * * * *"
	DefaultRefreshSpec = "0 0 * * * *"
)

// Ticker recomputes the derived view without network access.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) error
}

// Refresher runs a full refresh.
type Refresher interface {
	Run(ctx context.Context) *worker.RefreshResult
}

// Config holds scheduler configuration.
type Config struct {
	// TickSpec schedules the view recompute (default: every minute).
	TickSpec string

	// RefreshSpec schedules the refresh (default: every hour).
	RefreshSpec string

	// Location is the timezone the schedules are evaluated in
	// (default: time.Local).
	Location *time.Location

	// SkipInitialRefresh disables the refresh on Start.
	SkipInitialRefresh bool

	Logger zerolog.Logger
}

// Scheduler runs the tick and refresh jobs.
type Scheduler struct {
	config    Config
	ticker    Ticker
	refresher Refresher
	logger    zerolog.Logger
	cron      *cron.Cron

	// ctx is the Start context, read by the cron jobs.
	ctx context.Context
}

// New creates a scheduler. Invalid schedules are reported here, not on Start.
func New(cfg Config, ticker Ticker, refresher Refresher) (*Scheduler, error) {
	if cfg.TickSpec == "" {
		cfg.TickSpec = DefaultTickSpec
	}
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = DefaultRefreshSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	logger := cronLogger{logger: cfg.Logger}
	s := &Scheduler{
		config:    cfg,
		ticker:    ticker,
		refresher: refresher,
		logger:    cfg.Logger,
		// Overlapping runs are skipped, not queued.
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}

	if _, err := s.cron.AddFunc(cfg.TickSpec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", cfg.TickSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.RefreshSpec, s.refresh); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshSpec, err)
	}

	return s, nil
}

// Start runs the initial refresh, then the schedules, and blocks until ctx is
// cancelled. Running jobs are waited for before it returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	if !s.config.SkipInitialRefresh {
		s.refresh()
	}

	s.logger.Info().
		Str("tick", s.config.TickSpec).
		Str("refresh", s.config.RefreshSpec).
		Str("timezone", s.config.Location.String()).
		Msg("scheduler started")

	s.cron.Start()

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()

	s.logger.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	err := s.ticker.Tick(s.ctx, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, dashboard.ErrNoSnapshot):
		s.logger.Debug().Msg("tick skipped, no snapshot yet")
	default:
		s.logger.Warn().Err(err).Msg("tick failed")
	}
}

func (s *Scheduler) refresh() {
	if s.ctx.Err() != nil {
		return
	}
	s.refresher.Run(s.ctx)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
