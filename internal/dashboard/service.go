package dashboard

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/telemetry"
	"github.com/weatherdash/weatherdash/internal/weather"
)

const tracerName = "github.com/weatherdash/weatherdash/internal/dashboard"

// ServiceConfig holds configuration for the dashboard service.
type ServiceConfig struct {
	// Locator resolves the position when no user override is set.
	Locator location.Locator

	// Forecast is the forecast provider (required).
	Forecast weather.Provider

	// AirQuality is the air quality provider (optional).
	AirQuality airquality.Provider

	// Geocoder resolves the address (optional).
	Geocoder geocode.Provider

	// Repository persists the latest snapshot (default: in-memory).
	Repository Repository

	// Logger for service operations.
	Logger zerolog.Logger

	// StaleAfter marks a snapshot stale once its forecast is older than this
	// (default: 2 hours).
	StaleAfter time.Duration

	// OnLoadingChange is called on every loading flag transition. It runs
	// while the service holds its state lock and must not call back into the
	// service.
	OnLoadingChange func(loading bool)

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Status describes the dashboard state for display and health checks.
type Status struct {
	Loading       bool                  `json:"loading"`
	HasSnapshot   bool                  `json:"hasSnapshot"`
	Stale         bool                  `json:"stale"`
	Seq           uint64                `json:"seq"`
	Location      *location.Coordinates `json:"location,omitempty"`
	FetchedAt     *time.Time            `json:"fetchedAt,omitempty"`
	LastSuccessAt *time.Time            `json:"lastSuccessAt,omitempty"`
	LastError     *ErrorInfo            `json:"lastError,omitempty"`
}

// Service owns the dashboard snapshot and refreshes it.
type Service struct {
	locator    *location.OverrideLocator
	forecast   weather.Provider
	airQuality airquality.Provider
	geocoder   geocode.Provider
	repo       Repository
	logger     zerolog.Logger
	staleAfter time.Duration
	onLoading  func(bool)
	now        func() time.Time

	snapshot atomic.Pointer[Snapshot]
	seq      atomic.Uint64

	mu          sync.Mutex
	committed   uint64
	inflight    int
	loading     bool
	stale       bool
	lastError   *ErrorInfo
	lastSuccess time.Time
}

// NewService creates a new dashboard service.
func NewService(cfg ServiceConfig) *Service {
	repo := cfg.Repository
	if repo == nil {
		repo = NewInMemoryRepository()
	}

	staleAfter := cfg.StaleAfter
	if staleAfter == 0 {
		staleAfter = 2 * time.Hour
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		locator:    location.NewOverrideLocator(cfg.Locator),
		forecast:   cfg.Forecast,
		airQuality: cfg.AirQuality,
		geocoder:   cfg.Geocoder,
		repo:       repo,
		logger:     cfg.Logger,
		staleAfter: staleAfter,
		onLoading:  cfg.OnLoadingChange,
		now:        now,
		loading:    true,
	}
}

// Snapshot returns the published snapshot, or nil before the first one.
func (s *Service) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// SetLocation overrides the located position. Callers refresh afterwards.
func (s *Service) SetLocation(coords location.Coordinates) error {
	return s.locator.Set(coords)
}

// Status returns the current dashboard status.
func (s *Service) Status() Status {
	snap := s.snapshot.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Loading:     s.loading,
		HasSnapshot: snap != nil,
		LastError:   s.lastError,
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		st.LastSuccessAt = &t
	}
	if snap != nil {
		coords := snap.Coords
		fetchedAt := snap.FetchedAt
		st.Seq = snap.Seq
		st.Location = &coords
		st.FetchedAt = &fetchedAt
		st.Stale = s.stale || snap.Age(s.now()) > s.staleAfter
	}
	return st
}

// Restore publishes the repository's latest snapshot, flagged stale, so a
// restarted process has data before its first refresh completes.
func (s *Service) Restore(ctx context.Context) error {
	latest, err := s.repo.Latest(ctx)
	if err != nil {
		return err
	}

	next := latest.Recompute(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot.Load() != nil {
		return nil
	}
	// A restored snapshot takes no sequence number: any refresh, including
	// one already in flight, replaces it.
	next.Seq = s.committed
	s.snapshot.Store(next)
	s.stale = true
	if s.inflight == 0 {
		s.setLoadingLocked(false)
	}

	s.logger.Info().
		Time("fetched_at", next.FetchedAt).
		Msg("restored dashboard snapshot")

	return nil
}

// Refresh locates the user, fetches forecast, air quality and address
// concurrently, and publishes the resulting snapshot. A result is published
// only if no refresh that started later has already been published.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	seq := s.beginLoading()
	defer s.endLoading()

	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "dashboard.Refresh")
	defer span.End()
	span.SetAttributes(attribute.Int64("dashboard.seq", int64(seq))) //nolint:gosec // sequence numbers stay far below MaxInt64

	start := s.now()
	snap, err := s.fetch(ctx, seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		s.recordFailure(seq, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("dashboard.warnings", len(snap.Warnings)))

	if !s.commit(snap) {
		span.SetAttributes(attribute.Bool("dashboard.superseded", true))
		s.logger.Debug().
			Uint64("seq", seq).
			Msg("dropping superseded refresh result")
		return nil, ErrSuperseded
	}

	if err := s.repo.Save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist dashboard snapshot")
	}

	s.logger.Info().
		Uint64("seq", seq).
		Float64("lat", snap.Coords.Lat).
		Float64("lon", snap.Coords.Lon).
		Int("temperature", snap.Current.Temperature).
		Int("warnings", len(snap.Warnings)).
		Dur("duration", s.now().Sub(start)).
		Msg("dashboard refreshed")

	return snap, nil
}

// Tick recomputes the derived view for now without network access. When the
// repository holds a snapshot fetched later than the published one (another
// process refreshed it), that snapshot is adopted first, unless a refresh of
// this process is in flight or the user chose a different location.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	base := s.snapshot.Load()
	cur := base
	adopted := false

	latest, err := s.repo.Latest(ctx)
	switch {
	case err == nil:
		if s.adoptable(base, latest) {
			cur = latest
			adopted = true
		}
	case !errors.Is(err, ErrNoSnapshot):
		s.logger.Warn().Err(err).Msg("failed to read shared snapshot")
	}

	if cur == nil {
		return ErrNoSnapshot
	}

	next := cur.Recompute(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot.Load() != base {
		// A refresh published while we recomputed.
		return nil
	}
	if adopted && s.inflight > 0 {
		// The in-flight refresh publishes its own result.
		if base == nil {
			return nil
		}
		next, adopted = base.Recompute(now), false
	}
	if adopted {
		next.Seq = s.seq.Add(1)
		s.committed = next.Seq
		s.stale = next.servedStale()
		s.setLoadingLocked(false)
		s.logger.Info().
			Time("fetched_at", next.FetchedAt).
			Msg("adopted shared dashboard snapshot")
	}
	s.snapshot.Store(next)
	return nil
}

// adoptable reports whether a repository snapshot should replace cur.
func (s *Service) adoptable(cur, latest *Snapshot) bool {
	if cur != nil && !latest.FetchedAt.After(cur.FetchedAt) {
		return false
	}
	if chosen, ok := s.locator.Override(); ok && !closeTo(chosen, latest.Coords) {
		return false
	}
	return true
}

// fetch runs one refresh up to building the snapshot.
func (s *Service) fetch(ctx context.Context, seq uint64) (*Snapshot, error) {
	coords, err := s.locator.Locate(ctx)
	if err != nil {
		return nil, &RefreshError{Stage: "locate", Kind: KindLocationUnavailable, Err: err}
	}

	prev := s.snapshot.Load()
	sameLocation := prev != nil && closeTo(prev.Coords, coords)

	var (
		forecast *weather.Forecast
		series   *airquality.Series
		address  *geocode.Address
		aqErr    error
		geoErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f, err := s.forecast.GetForecast(gctx, coords.Lat, coords.Lon)
		if err != nil {
			return err
		}
		forecast = f
		return nil
	})

	if s.airQuality != nil {
		g.Go(func() error {
			series, aqErr = s.airQuality.GetUSAQI(gctx, coords.Lat, coords.Lon)
			return nil
		})
	}

	if s.geocoder != nil && !(sameLocation && !prev.Address.IsZero()) {
		g.Go(func() error {
			address, geoErr = s.geocoder.Reverse(gctx, coords.Lat, coords.Lon)
			return nil
		})
	} else if sameLocation {
		address = prev.Address
	}

	if err := g.Wait(); err != nil {
		return nil, newRefreshError("forecast", err)
	}

	var warnings []Warning

	if cause := forecast.StaleCause; cause != nil {
		s.logger.Warn().Err(cause).
			Time("fetched_at", forecast.FetchedAt).
			Msg("forecast provider failed, showing cached forecast")
		warnings = append(warnings, Warning{
			Kind:    Classify(cause),
			Source:  sourceForecast,
			Message: cause.Error(),
		})
	}

	if aqErr != nil {
		s.logger.Warn().Err(aqErr).Msg("air quality unavailable, showing dashboard without AQI")
		warnings = append(warnings, Warning{
			Kind:    Classify(aqErr),
			Source:  "air_quality",
			Message: aqErr.Error(),
		})
		series = nil
	}

	if geoErr != nil {
		s.logger.Warn().Err(geoErr).Msg("reverse geocoding failed")
		warnings = append(warnings, Warning{
			Kind:    Classify(geoErr),
			Source:  "geocode",
			Message: geoErr.Error(),
		})
		address = nil
		if sameLocation {
			address = prev.Address
		}
	}

	snap, err := Build(BuildInput{
		Seq:        seq,
		Coords:     coords,
		Address:    address,
		Forecast:   forecast,
		AirQuality: series,
		Warnings:   warnings,
		Now:        s.now(),
	})
	if err != nil {
		return nil, newRefreshError("build", err)
	}

	for _, w := range snap.Warnings {
		if w.Kind == KindIndexFallback {
			s.logger.Warn().
				Str("source", w.Source).
				Msg(w.Message)
		}
	}

	return snap, nil
}

// commit publishes snap unless a later refresh was already published.
func (s *Service) commit(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Seq <= s.committed {
		return false
	}

	s.committed = snap.Seq
	s.snapshot.Store(snap)
	s.stale = snap.servedStale()
	s.lastError = nil
	s.lastSuccess = s.now()
	return true
}

// recordFailure keeps the published snapshot and marks it stale.
func (s *Service) recordFailure(seq uint64, err error) {
	kind := Classify(err)
	stage := ""
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		stage = refreshErr.Stage
	}

	s.logger.Error().Err(err).
		Uint64("seq", seq).
		Str("kind", string(kind)).
		Str("stage", stage).
		Msg("dashboard refresh failed")

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.committed {
		return
	}
	s.stale = true
	s.lastError = &ErrorInfo{
		Kind:    kind,
		Stage:   stage,
		Message: err.Error(),
		At:      s.now(),
	}
}

// beginLoading marks a refresh in flight and returns its sequence number.
// Both happen under the lock so Tick never sees a sequence without its
// in-flight refresh.
func (s *Service) beginLoading() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	s.setLoadingLocked(true)
	return s.seq.Add(1)
}

func (s *Service) endLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		s.setLoadingLocked(false)
	}
}

func (s *Service) setLoadingLocked(loading bool) {
	if s.loading == loading {
		return
	}
	s.loading = loading
	if s.onLoading != nil {
		s.onLoading(loading)
	}
}

// closeTo reports whether two positions are within roughly 100m.
func closeTo(a, b location.Coordinates) bool {
	return math.Abs(a.Lat-b.Lat) < 0.001 && math.Abs(a.Lon-b.Lon) < 0.001
}
