// Package config loads weatherdash configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

const maxPortNumber = 65535

// Snapshot store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Location  LocationConfig
	Providers ProvidersConfig
	Schedule  ScheduleConfig
	Store     StoreConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	PubSub    PubSubConfig
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Timezone string `envconfig:"APP_TIMEZONE" default:"Local"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `envconfig:"APP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"45s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RefreshRate     int           `envconfig:"REFRESH_RATE_LIMIT" default:"6"`
	RequireTLS      bool          `envconfig:"REQUIRE_TLS" default:"false"`
}

// LocationConfig selects how the dashboard position is found. A static
// position wins over IP lookup.
type LocationConfig struct {
	Lat         *float64 `envconfig:"LOCATION_LAT"`
	Lon         *float64 `envconfig:"LOCATION_LON"`
	IPLookup    bool     `envconfig:"LOCATION_IP_LOOKUP" default:"true"`
	IPLookupURL string   `envconfig:"LOCATION_IP_LOOKUP_URL" default:"https://ipapi.co/json/"`
}

// ProvidersConfig configures the upstream APIs.
type ProvidersConfig struct {
	ForecastBaseURL   string        `envconfig:"FORECAST_BASE_URL" default:"https://api.open-meteo.com/v1"`
	ForecastAPIKey    string        `envconfig:"FORECAST_API_KEY"`
	AirQualityBaseURL string        `envconfig:"AIR_QUALITY_BASE_URL" default:"https://air-quality-api.open-meteo.com/v1"`
	AirQualityEnabled bool          `envconfig:"AIR_QUALITY_ENABLED" default:"true"`
	GeocodeBaseURL    string        `envconfig:"GEOCODE_BASE_URL" default:"https://geocode.maps.co"`
	GeocodeAPIKey     string        `envconfig:"GEOCODE_API_KEY"`
	GeocodeEnabled    bool          `envconfig:"GEOCODE_ENABLED" default:"true"`
	GeocodeRateLimit  float64       `envconfig:"GEOCODE_RATE_LIMIT" default:"1"`
	RequestTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	CacheTTL          time.Duration `envconfig:"PROVIDER_CACHE_TTL" default:"5m"`
}

// ScheduleConfig configures the timers.
type ScheduleConfig struct {
	TickSpec       string        `envconfig:"SCHEDULE_TICK" default:"0 * * * * *"`
	RefreshSpec    string        `envconfig:"SCHEDULE_REFRESH" default:"0 0 * * * *"`
	RefreshTimeout time.Duration `envconfig:"REFRESH_TIMEOUT" default:"30s"`
	StaleAfter     time.Duration `envconfig:"STALE_AFTER" default:"2h"`
}

// StoreConfig selects the snapshot repository.
type StoreConfig struct {
	Backend string `envconfig:"SNAPSHOT_STORE" default:"memory"`
}

// RedisConfig configures the Redis snapshot repository.
type RedisConfig struct {
	Addr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"REDIS_PASSWORD"`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	Key          string        `envconfig:"REDIS_KEY" default:"weatherdash:snapshot:latest"`
	TTL          time.Duration `envconfig:"REDIS_TTL" default:"48h"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// DatabaseConfig configures the PostgreSQL snapshot repository.
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"weatherdash"`
	Password        string        `envconfig:"DB_PASSWORD" default:"localdev"`
	Name            string        `envconfig:"DB_NAME" default:"weatherdash"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"4"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"15s"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	Enabled      bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	SampleRatio  float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`

	Insecure       bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ExportInterval time.Duration `envconfig:"OTEL_METRIC_EXPORT_INTERVAL" default:"15s"`
}

// PubSubConfig configures the worker's Pub/Sub trigger.
type PubSubConfig struct {
	ProjectID    string `envconfig:"PUBSUB_PROJECT_ID"`
	Subscription string `envconfig:"PUBSUB_SUBSCRIPTION" default:"weatherdash-refresh"`

	MaxOutstanding int           `envconfig:"PUBSUB_MAX_OUTSTANDING" default:"2"`
	MaxExtension   time.Duration `envconfig:"PUBSUB_MAX_EXTENSION" default:"2m"`
}

// Enabled reports whether a Pub/Sub project is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != ""
}

// Load reads an optional .env file, then the environment, and validates the
// result. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// A missing .env is normal outside local development.
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPortNumber {
		return invalid("APP_PORT must be between 1 and %d", maxPortNumber)
	}
	if c.Server.RefreshRate < 1 {
		return invalid("REFRESH_RATE_LIMIT must be positive")
	}

	if (c.Location.Lat == nil) != (c.Location.Lon == nil) {
		return invalid("LOCATION_LAT and LOCATION_LON must be set together")
	}
	if pos, ok := c.StaticLocation(); ok {
		if pos[0] < -90 || pos[0] > 90 || pos[1] < -180 || pos[1] > 180 {
			return invalid("static location %.4f,%.4f out of range", pos[0], pos[1])
		}
	}
	if c.Location.IPLookup {
		if err := checkURL("LOCATION_IP_LOOKUP_URL", c.Location.IPLookupURL); err != nil {
			return err
		}
	}

	if err := checkURL("FORECAST_BASE_URL", c.Providers.ForecastBaseURL); err != nil {
		return err
	}
	if c.Providers.AirQualityEnabled {
		if err := checkURL("AIR_QUALITY_BASE_URL", c.Providers.AirQualityBaseURL); err != nil {
			return err
		}
	}
	if c.Providers.GeocodeEnabled {
		if err := checkURL("GEOCODE_BASE_URL", c.Providers.GeocodeBaseURL); err != nil {
			return err
		}
		if c.Providers.GeocodeRateLimit < 0 {
			return invalid("GEOCODE_RATE_LIMIT must not be negative")
		}
	}
	if c.Providers.RequestTimeout <= 0 {
		return invalid("PROVIDER_TIMEOUT must be positive")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.TickSpec); err != nil {
		return invalid("SCHEDULE_TICK %q: %v", c.Schedule.TickSpec, err)
	}
	if _, err := parser.Parse(c.Schedule.RefreshSpec); err != nil {
		return invalid("SCHEDULE_REFRESH %q: %v", c.Schedule.RefreshSpec, err)
	}
	if c.Schedule.RefreshTimeout <= 0 {
		return invalid("REFRESH_TIMEOUT must be positive")
	}
	// Refresh endpoints answer only after the refresh ends; a zero write
	// timeout means none.
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Schedule.RefreshTimeout {
		return invalid("SERVER_WRITE_TIMEOUT (%s) must exceed REFRESH_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Schedule.RefreshTimeout)
	}
	if c.Schedule.StaleAfter <= 0 {
		return invalid("STALE_AFTER must be positive")
	}

	if _, err := c.TimeLocation(); err != nil {
		return invalid("APP_TIMEZONE %q: %v", c.App.Timezone, err)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return invalid("REDIS_ADDR is required for the redis store")
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			return invalid("REDIS_DB must be between 0 and 15")
		}
	case StorePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return invalid("DB_HOST and DB_NAME are required for the postgres store")
		}
		if c.Database.Port < 1 || c.Database.Port > maxPortNumber {
			return invalid("DB_PORT must be between 1 and %d", maxPortNumber)
		}
	default:
		return invalid("SNAPSHOT_STORE must be one of %s", strings.Join([]string{StoreMemory, StoreRedis, StorePostgres}, ", "))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return invalid("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}

	return nil
}

// StaticLocation returns the configured position as [lat, lon].
func (c *Config) StaticLocation() ([2]float64, bool) {
	if c.Location.Lat == nil || c.Location.Lon == nil {
		return [2]float64{}, false
	}
	return [2]float64{*c.Location.Lat, *c.Location.Lon}, true
}

// TimeLocation resolves APP_TIMEZONE for the schedules.
func (c *Config) TimeLocation() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s must be an http(s) URL, got %q", name, raw)
	}
	return nil
}
