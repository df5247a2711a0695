// Package airquality provides US AQI series access and caching.
package airquality

import (
	"context"
	"errors"
	"time"

	"github.com/weatherdash/weatherdash/internal/weather"
)

// Provider errors.
var (
	ErrNoReadings          = errors.New("no air quality readings available")
	ErrMalformedResponse   = errors.New("malformed air quality response")
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
)

// Provider defines the interface for air quality data providers.
type Provider interface {
	// GetUSAQI fetches the hourly US AQI series for a location.
	GetUSAQI(ctx context.Context, lat, lon float64) (*Series, error)

	// Name returns the provider name for logging.
	Name() string
}

// Reading is a single hourly US AQI value. USAQI is nil when the provider
// has no value for the hour.
type Reading struct {
	Time  time.Time `json:"time"`
	USAQI *int      `json:"usAqi"`
}

// Series is an hourly US AQI series ordered ascending by time.
type Series struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timezone  string    `json:"timezone"`
	Readings  []Reading `json:"readings"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Times returns the reading timestamps.
func (s *Series) Times() []time.Time {
	times := make([]time.Time, len(s.Readings))
	for i, r := range s.Readings {
		times[i] = r.Time
	}
	return times
}

// Current returns the reading for the closest past hour and its index.
// ok is false when the series is empty, every reading is in the future, or
// the selected hour has no value.
func (s *Series) Current(now time.Time) (Reading, int, bool) {
	if s == nil || len(s.Readings) == 0 {
		return Reading{}, 0, false
	}
	idx, found := weather.ClosestPastIndex(s.Times(), now)
	r := s.Readings[idx]
	return r, idx, found && r.USAQI != nil
}

// Level is a US EPA AQI category.
type Level string

const (
	LevelGood               Level = "Good"
	LevelModerate           Level = "Moderate"
	LevelUnhealthySensitive Level = "Unhealthy for Sensitive Groups"
	LevelUnhealthy          Level = "Unhealthy"
	LevelVeryUnhealthy      Level = "Very Unhealthy"
	LevelHazardous          Level = "Hazardous"
)

// Category returns the US EPA category for an AQI value.
func Category(aqi int) Level {
	switch {
	case aqi <= 50:
		return LevelGood
	case aqi <= 100:
		return LevelModerate
	case aqi <= 150:
		return LevelUnhealthySensitive
	case aqi <= 200:
		return LevelUnhealthy
	case aqi <= 300:
		return LevelVeryUnhealthy
	default:
		return LevelHazardous
	}
}
