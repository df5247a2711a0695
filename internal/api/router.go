// Package api provides the HTTP surface of weatherdash.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/api/handler"
	"github.com/weatherdash/weatherdash/internal/api/middleware"
	"github.com/weatherdash/weatherdash/internal/api/response"
	"github.com/weatherdash/weatherdash/internal/dashboard"
)

// DefaultRefreshRate is the explicit refresh limit per client per minute.
const DefaultRefreshRate = 6

// Dashboard is the dashboard state the router serves.
type Dashboard interface {
	Snapshot() *dashboard.Snapshot
	Status() dashboard.Status
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Dashboard Dashboard
	Refresher handler.Refresher

	// Status sources for /v1/ops, all optional.
	Providers    handler.ProviderHealthReader
	Caches       []handler.CacheReporter
	RefreshStats handler.RefreshStats
	Dependencies map[string]handler.Pinger

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// RefreshRate limits explicit refreshes per client IP per minute.
	RefreshRate int

	// RequireTLS rejects plain HTTP reported by a load balancer.
	RequireTLS bool
}

// NewRouter creates a new chi router with all routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultRefreshRate
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing)   // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement

	dashboardHandler := handler.NewDashboardHandler(cfg.Dashboard, cfg.Refresher, cfg.Logger)
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		Dashboard:    cfg.Dashboard,
		Providers:    cfg.Providers,
		Caches:       cfg.Caches,
		Refresh:      cfg.RefreshStats,
		Dependencies: cfg.Dependencies,
	})

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	refreshRateLimit := middleware.RateLimitByIP(middleware.RefreshRateLimit(cfg.RefreshRate))

	// Dashboard page
	r.Group(func(r chi.Router) {
		r.Use(standardRateLimit)
		r.Get("/", dashboardHandler.Page)
	})
	r.With(refreshRateLimit).Post("/refresh", dashboardHandler.PageRefresh)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/dashboard", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", dashboardHandler.GetDashboard)
			r.With(refreshRateLimit).Post("/refresh", dashboardHandler.Refresh)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})

	return r
}
