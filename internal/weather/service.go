package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachingProviderConfig holds configuration for the caching provider.
type CachingProviderConfig struct {
	// Provider is the upstream forecast provider.
	Provider Provider

	// Logger for cache operations.
	Logger zerolog.Logger

	// CacheTTL is how long a forecast is served without asking the provider
	// (default: 1 minute). Keeps repeated manual refreshes off the upstream API.
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.01).
	// Points within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving a cached forecast on provider errors
	// (default: 3 hours).
	StaleIfErrorTTL time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// CachingProvider wraps a Provider with a short-lived cache and
// stale-if-error fallback.
type CachingProvider struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	now             func() time.Time

	mu    sync.Mutex
	cache map[string]*cachedForecast
}

type cachedForecast struct {
	forecast  *Forecast
	fetchedAt time.Time
}

// NewCachingProvider creates a new caching forecast provider.
func NewCachingProvider(cfg CachingProviderConfig) *CachingProvider {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.01 // ~1km at equator
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 3 * time.Hour
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &CachingProvider{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		now:             now,
		cache:           make(map[string]*cachedForecast),
	}
}

// Name returns the upstream provider name.
func (p *CachingProvider) Name() string {
	return p.provider.Name()
}

// GetForecast returns a cached forecast when fresh, otherwise asks the
// upstream provider. On upstream failure a cached forecast younger than the
// stale-if-error TTL is served instead.
func (p *CachingProvider) GetForecast(ctx context.Context, lat, lon float64) (*Forecast, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	key := p.cacheKey(lat, lon)

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()

	now := p.now()
	if ok && now.Before(cached.fetchedAt.Add(p.cacheTTL)) {
		return cached.forecast, nil
	}

	p.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("provider", p.provider.Name()).
		Msg("fetching forecast from provider")

	forecast, err := p.provider.GetForecast(ctx, lat, lon)
	if err != nil {
		if ok && now.Before(cached.fetchedAt.Add(p.staleIfErrorTTL)) {
			p.logger.Warn().Err(err).
				Time("fetched_at", cached.fetchedAt).
				Msg("serving stale forecast due to provider error")
			stale := *cached.forecast
			stale.StaleCause = err
			return &stale, nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = &cachedForecast{forecast: forecast, fetchedAt: now}
	p.cleanupLocked(now)
	p.mu.Unlock()

	return forecast, nil
}

// InvalidateCache clears all cached data.
func (p *CachingProvider) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*cachedForecast)
}

// cacheKey groups nearby points into grid cells.
func (p *CachingProvider) cacheKey(lat, lon float64) string {
	gridLat := math.Floor(lat/p.cacheGridSize) * p.cacheGridSize
	gridLon := math.Floor(lon/p.cacheGridSize) * p.cacheGridSize
	return fmt.Sprintf("%.3f:%.3f", gridLat, gridLon)
}

func (p *CachingProvider) cleanupLocked(now time.Time) {
	for key, c := range p.cache {
		if now.After(c.fetchedAt.Add(p.staleIfErrorTTL)) {
			delete(p.cache, key)
		}
	}
}
