// Package app wires the weatherdash services from configuration. The API
// server and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/airquality"
	aqopenmeteo "github.com/weatherdash/weatherdash/internal/airquality/openmeteo"
	"github.com/weatherdash/weatherdash/internal/api/handler"
	"github.com/weatherdash/weatherdash/internal/config"
	"github.com/weatherdash/weatherdash/internal/dashboard"
	"github.com/weatherdash/weatherdash/internal/database"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/geocode/mapsco"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
	"github.com/weatherdash/weatherdash/internal/weather"
	"github.com/weatherdash/weatherdash/internal/weather/openmeteo"
	"github.com/weatherdash/weatherdash/internal/worker"
)

// Container holds the wired services.
type Container struct {
	Dashboard  *dashboard.Service
	RefreshJob *worker.RefreshJob

	// Providers tracks circuit breaker health of every upstream client.
	Providers *resilience.Registry

	Caches       []handler.CacheReporter
	Dependencies map[string]handler.Pinger

	logger  zerolog.Logger
	closers []func()
}

// New builds the provider clients, the snapshot repository, the dashboard
// service and its refresh job. The provider and refresh job collectors are
// registered on reg. Close releases the repository connections.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Container, error) {
	c := &Container{
		Providers:    resilience.NewRegistry(),
		Dependencies: make(map[string]handler.Pinger),
		logger:       logger,
	}
	if reg != nil {
		if err := reg.Register(c.Providers); err != nil {
			return nil, fmt.Errorf("register provider collector: %w", err)
		}
	}

	forecast := weather.NewCachingProvider(weather.CachingProviderConfig{
		Provider: openmeteo.NewClient(openmeteo.ClientConfig{
			BaseURL:    cfg.Providers.ForecastBaseURL,
			APIKey:     cfg.Providers.ForecastAPIKey,
			HTTPClient: c.httpClient(cfg, openmeteo.ProviderName, 0),
			Logger:     logger,
		}),
		Logger:   logger,
		CacheTTL: cfg.Providers.CacheTTL,
	})

	var airQuality airquality.Provider
	if cfg.Providers.AirQualityEnabled {
		aq := airquality.NewService(airquality.ServiceConfig{
			Provider: aqopenmeteo.NewClient(aqopenmeteo.ClientConfig{
				BaseURL:    cfg.Providers.AirQualityBaseURL,
				APIKey:     cfg.Providers.ForecastAPIKey,
				HTTPClient: c.httpClient(cfg, aqopenmeteo.ProviderName, 0),
				Logger:     logger,
			}),
			Logger:   logger,
			CacheTTL: cfg.Providers.CacheTTL,
		})
		airQuality = aq
		c.Caches = append(c.Caches, aq)
	}

	var geocoder geocode.Provider
	if cfg.Providers.GeocodeEnabled {
		geocoder = mapsco.NewClient(mapsco.ClientConfig{
			BaseURL:    cfg.Providers.GeocodeBaseURL,
			APIKey:     cfg.Providers.GeocodeAPIKey,
			HTTPClient: c.httpClient(cfg, mapsco.ProviderName, cfg.Providers.GeocodeRateLimit),
			Logger:     logger,
		})
	}

	repo, err := c.repository(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Dashboard = dashboard.NewService(dashboard.ServiceConfig{
		Locator:    c.locator(cfg),
		Forecast:   forecast,
		AirQuality: airQuality,
		Geocoder:   geocoder,
		Repository: repo,
		Logger:     logger,
		StaleAfter: cfg.Schedule.StaleAfter,
		OnLoadingChange: func(loading bool) {
			logger.Debug().Bool("loading", loading).Msg("dashboard loading changed")
		},
	})

	switch err := c.Dashboard.Restore(ctx); {
	case err == nil:
	case errors.Is(err, dashboard.ErrNoSnapshot):
		logger.Info().Msg("no stored snapshot, waiting for the first refresh")
	default:
		logger.Warn().Err(err).Msg("failed to restore dashboard snapshot")
	}

	c.RefreshJob = worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:     worker.RefreshConfig{Timeout: cfg.Schedule.RefreshTimeout},
		Logger:     logger,
		Dashboard:  c.Dashboard,
		Registerer: reg,
	})

	return c, nil
}

// Close releases the repository connections.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Container) httpClient(cfg *config.Config, name string, rateLimit float64) *resilience.Client {
	clientCfg := resilience.DefaultClientConfig(name)
	clientCfg.Timeout = cfg.Providers.RequestTimeout
	clientCfg.RateLimit = rateLimit
	clientCfg.Registry = c.Providers
	return resilience.NewClient(clientCfg)
}

// locator tries the static position first, then the IP lookup.
func (c *Container) locator(cfg *config.Config) location.Locator {
	var locators []location.Locator
	if pos, ok := cfg.StaticLocation(); ok {
		locators = append(locators, location.NewStaticLocator(&location.Coordinates{Lat: pos[0], Lon: pos[1]}))
	}
	if cfg.Location.IPLookup {
		locators = append(locators, location.NewIPLocator(location.IPLocatorConfig{
			URL:        cfg.Location.IPLookupURL,
			HTTPClient: c.httpClient(cfg, "ip-locator", 0),
			Logger:     c.logger,
		}))
	}
	return location.NewChainLocator(locators...)
}

func (c *Container) repository(ctx context.Context, cfg *config.Config) (dashboard.Repository, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		repo, err := dashboard.NewRedisRepository(ctx, dashboard.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Key:          cfg.Redis.Key,
			TTL:          cfg.Redis.TTL,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		c.Dependencies[config.StoreRedis] = repo
		c.closers = append(c.closers, func() {
			if err := repo.Close(); err != nil {
				c.logger.Error().Err(err).Msg("failed to close redis")
			}
		})
		c.logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis snapshot store connected")
		return repo, nil

	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Database, c.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		c.Dependencies[config.StorePostgres] = pool
		c.closers = append(c.closers, pool.Close)

		repo := dashboard.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure snapshot schema: %w", err)
		}
		c.logger.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Name).
			Msg("postgres snapshot store connected")
		return repo, nil

	default:
		return dashboard.NewInMemoryRepository(), nil
	}
}
