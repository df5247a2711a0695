// Package weather provides the forecast domain model and the index lookups used
// to derive the "current" view from hourly and daily forecast data.
package weather

import (
	"context"
	"errors"
	"time"

	// Embedded zone database so provider timezones resolve on minimal hosts.
	_ "time/tzdata"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrMalformedResponse   = errors.New("malformed forecast response")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrEmptyForecast       = errors.New("forecast contains no entries")
)

// DateLayout is the calendar date format used by daily forecast entries.
const DateLayout = "2006-01-02"

// Provider defines the interface for forecast data providers.
type Provider interface {
	// GetForecast fetches the hourly and daily forecast for a location.
	GetForecast(ctx context.Context, lat, lon float64) (*Forecast, error)

	// Name returns the provider name for logging.
	Name() string
}

// Forecast is a validated forecast for one location. Hourly and Daily are
// ordered ascending by time.
type Forecast struct {
	Lat float64
	Lon float64

	// Timezone is the IANA zone the provider resolved for the location.
	Timezone         string
	UTCOffsetSeconds int

	// IsDay reports whether it is currently daytime at the location.
	IsDay bool

	Hourly []HourlyRecord
	Daily  []DailyRecord

	FetchedAt time.Time

	// StaleCause is the provider error a cached forecast was served in place
	// of. Nil for a forecast the provider just returned.
	StaleCause error
}

// HourlyRecord holds every hourly variable for a single hour.
type HourlyRecord struct {
	Time time.Time `json:"time"`

	// Temperatures in Celsius
	Temperature         float64 `json:"temperature"`
	Temperature80m      float64 `json:"temperature80m"`
	ApparentTemperature float64 `json:"apparentTemperature"`

	SurfacePressure          float64 `json:"surfacePressure"`          // hPa
	CloudCover               float64 `json:"cloudCover"`               // percentage (0-100)
	Humidity                 float64 `json:"humidity"`                 // percentage (0-100)
	PrecipitationProbability float64 `json:"precipitationProbability"` // percentage (0-100)
	WeatherCode              int     `json:"weatherCode"`              // WMO code
	Visibility               float64 `json:"visibility"`               // meters
	WindSpeed                float64 `json:"windSpeed"`                // km/h
	WindDirection            float64 `json:"windDirection"`            // degrees, 0=N
	UVIndex                  float64 `json:"uvIndex"`
}

// DailyRecord holds the daily aggregates for a single calendar day.
type DailyRecord struct {
	// Date is the local calendar date (YYYY-MM-DD).
	Date           string    `json:"date"`
	TemperatureMax float64   `json:"temperatureMax"`
	TemperatureMin float64   `json:"temperatureMin"`
	WeatherCode    int       `json:"weatherCode"`
	Sunrise        time.Time `json:"sunrise"`
	Sunset         time.Time `json:"sunset"`
}

// HourlyTimes returns the timestamps of the hourly records.
func (f *Forecast) HourlyTimes() []time.Time {
	times := make([]time.Time, len(f.Hourly))
	for i, h := range f.Hourly {
		times[i] = h.Time
	}
	return times
}

// DailyDates returns the calendar dates of the daily records.
func (f *Forecast) DailyDates() []string {
	dates := make([]string, len(f.Daily))
	for i, d := range f.Daily {
		dates[i] = d.Date
	}
	return dates
}

// Location returns the time zone of the forecast, falling back to a fixed
// offset zone when the IANA name is unknown to the host.
func (f *Forecast) Location() *time.Location {
	return ResolveLocation(f.Timezone, f.UTCOffsetSeconds)
}

// ResponseZone is the zone an Open-Meteo response's local timestamps are
// written in: the single offset the response declares, named after its IANA
// zone. The offset does not change at DST transitions inside the response, so
// parsing in the IANA zone would skip or repeat hours.
func ResponseZone(name string, offsetSeconds int) *time.Location {
	if name == "" {
		name = "UTC"
	}
	return time.FixedZone(name, offsetSeconds)
}

// ResolveLocation loads the named zone or builds a fixed zone from the offset.
// It is the zone for display and for picking the local calendar day.
func ResolveLocation(name string, offsetSeconds int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if name == "" {
		name = "UTC"
	}
	return time.FixedZone(name, offsetSeconds)
}

// ValidateCoordinates checks if coordinates are valid.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
