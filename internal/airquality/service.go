package airquality

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Provider is the air quality data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache a series (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 3 hours).
	StaleIfErrorTTL time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service provides air quality series with caching. It implements Provider.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	now             func() time.Time

	mu          sync.RWMutex
	key         string
	series      *Series
	cacheExpiry time.Time
}

// NewService creates a new air quality service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 3 * time.Hour
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		now:             now,
	}
}

// Name returns the upstream provider name.
func (s *Service) Name() string {
	return s.provider.Name()
}

// GetUSAQI returns the series for a location, using the cached series when it
// is for the same location and not expired.
func (s *Service) GetUSAQI(ctx context.Context, lat, lon float64) (*Series, error) {
	key := locationKey(lat, lon)

	s.mu.RLock()
	if s.series != nil && s.key == key && s.now().Before(s.cacheExpiry) {
		series := s.series
		s.mu.RUnlock()
		return series, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx, key, lat, lon)
}

// InvalidateCache clears the cached series.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = nil
	s.key = ""
	s.cacheExpiry = time.Time{}
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.series == nil {
		return CacheStatus{
			HasData: false,
		}
	}

	now := s.now()
	return CacheStatus{
		HasData:   true,
		FetchedAt: s.series.FetchedAt,
		ExpiresAt: s.cacheExpiry,
		IsExpired: now.After(s.cacheExpiry),
		IsStale:   now.After(s.series.FetchedAt.Add(s.staleIfErrorTTL)),
		Readings:  len(s.series.Readings),
		Provider:  s.provider.Name(),
	}
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData   bool      `json:"hasData"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	IsExpired bool      `json:"isExpired"`
	IsStale   bool      `json:"isStale"`
	Readings  int       `json:"readings"`
	Provider  string    `json:"provider,omitempty"`
}

// refresh fetches fresh data from the provider.
func (s *Service) refresh(ctx context.Context, key string, lat, lon float64) (*Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine might have refreshed while we waited.
	now := s.now()
	if s.series != nil && s.key == key && now.Before(s.cacheExpiry) {
		return s.series, nil
	}

	s.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("refreshing air quality series")

	series, err := s.provider.GetUSAQI(ctx, lat, lon)
	if err != nil {
		if s.series != nil && s.key == key && now.Before(s.series.FetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().Err(err).
				Time("fetched_at", s.series.FetchedAt).
				Msg("serving stale air quality data due to provider error")
			return s.series, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	if series.FetchedAt.IsZero() {
		series.FetchedAt = now
	}

	s.key = key
	s.series = series
	s.cacheExpiry = now.Add(s.cacheTTL)

	s.logger.Info().
		Int("readings", len(series.Readings)).
		Time("expires_at", s.cacheExpiry).
		Msg("air quality series refreshed")

	return series, nil
}

// locationKey groups points within roughly 1km.
func locationKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f:%.2f", math.Round(lat*100)/100, math.Round(lon*100)/100)
}
