// Package dashboard owns the dashboard state: it builds immutable snapshots
// from provider data, refreshes them, and derives display views.
package dashboard

import (
	"fmt"
	"time"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/weather"
)

const sourceForecast = "forecast"

// Snapshot is one complete, validated dashboard state. A published snapshot
// is never mutated; Recompute returns a new one.
type Snapshot struct {
	Seq uint64 `json:"seq"`

	Coords           location.Coordinates `json:"coords"`
	Address          *geocode.Address     `json:"address,omitempty"`
	Timezone         string               `json:"timezone"`
	UTCOffsetSeconds int                  `json:"utcOffsetSeconds"`

	// IsDay is computed from today's sunrise and sunset. Without an exact
	// daily entry for today it falls back to ReportedIsDay, the provider's
	// value at fetch time.
	IsDay         bool `json:"isDay"`
	ReportedIsDay bool `json:"reportedIsDay"`

	Hourly     []weather.HourlyRecord `json:"hourly"`
	Daily      []weather.DailyRecord  `json:"daily"`
	AirQuality []airquality.Reading   `json:"airQuality,omitempty"`

	HourlyIndex      int  `json:"hourlyIndex"`
	HourlyIndexExact bool `json:"hourlyIndexExact"`
	DailyIndex       int  `json:"dailyIndex"`
	DailyIndexExact  bool `json:"dailyIndexExact"`
	AQIIndex         int  `json:"aqiIndex"`
	AQIAvailable     bool `json:"aqiAvailable"`

	Current  Current   `json:"current"`
	Warnings []Warning `json:"warnings,omitempty"`

	FetchedAt  time.Time `json:"fetchedAt"`
	ComputedAt time.Time `json:"computedAt"`
}

// Current is the derived "right now" view of a snapshot.
type Current struct {
	// Time is the hourly record the values were taken from.
	Time time.Time `json:"time"`

	// Clock is the local wall-clock time the view was computed for.
	Clock time.Time `json:"clock"`

	Temperature              int               `json:"temperature"`
	ApparentTemperature      int               `json:"apparentTemperature"`
	PrecipitationProbability float64           `json:"precipitationProbability"`
	UVIndex                  float64           `json:"uvIndex"`
	WindSpeed                float64           `json:"windSpeed"`
	WindDirection            float64           `json:"windDirection"`
	WindCompass              string            `json:"windCompass"`
	Humidity                 float64           `json:"humidity"`
	Visibility               float64           `json:"visibility"`
	WeatherCode              int               `json:"weatherCode"`
	Condition                weather.Condition `json:"condition"`
	CloudCover               float64           `json:"cloudCover"`
	SurfacePressure          float64           `json:"surfacePressure"`

	AQI         *int             `json:"aqi,omitempty"`
	AQICategory airquality.Level `json:"aqiCategory,omitempty"`

	TodayMax int       `json:"todayMax"`
	TodayMin int       `json:"todayMin"`
	Sunrise  time.Time `json:"sunrise"`
	Sunset   time.Time `json:"sunset"`
}

// BuildInput carries everything fetched during one refresh.
type BuildInput struct {
	Seq        uint64
	Coords     location.Coordinates
	Address    *geocode.Address
	Forecast   *weather.Forecast
	AirQuality *airquality.Series
	Warnings   []Warning
	Now        time.Time
}

// Build validates the fetched data and computes the derived view.
func Build(in BuildInput) (*Snapshot, error) {
	f := in.Forecast
	if f == nil || len(f.Hourly) == 0 || len(f.Daily) == 0 {
		return nil, weather.ErrEmptyForecast
	}

	s := &Snapshot{
		Seq:              in.Seq,
		Coords:           in.Coords,
		Address:          in.Address,
		Timezone:         f.Timezone,
		UTCOffsetSeconds: f.UTCOffsetSeconds,
		ReportedIsDay:    f.IsDay,
		Hourly:           append([]weather.HourlyRecord(nil), f.Hourly...),
		Daily:            append([]weather.DailyRecord(nil), f.Daily...),
		Warnings:         append([]Warning(nil), in.Warnings...),
		FetchedAt:        f.FetchedAt,
	}
	if s.FetchedAt.IsZero() {
		s.FetchedAt = in.Now
	}
	if in.AirQuality != nil {
		s.AirQuality = append([]airquality.Reading(nil), in.AirQuality.Readings...)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.compute(in.Now)
	return s, nil
}

// Recompute returns a copy of the snapshot with indexes and the current view
// recomputed for now. No network access is involved.
func (s *Snapshot) Recompute(now time.Time) *Snapshot {
	next := *s
	next.Warnings = make([]Warning, 0, len(s.Warnings))
	for _, w := range s.Warnings {
		if w.Kind != KindIndexFallback {
			next.Warnings = append(next.Warnings, w)
		}
	}
	next.compute(now)
	return &next
}

// servedStale reports whether the forecast came from cache after the
// provider failed.
func (s *Snapshot) servedStale() bool {
	for _, w := range s.Warnings {
		if w.Source == sourceForecast {
			return true
		}
	}
	return false
}

// Zone returns the snapshot's local timezone.
func (s *Snapshot) Zone() *time.Location {
	return weather.ResolveLocation(s.Timezone, s.UTCOffsetSeconds)
}

// Age returns how long ago the forecast was fetched.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// HourlyTimes returns the hourly timestamps.
func (s *Snapshot) HourlyTimes() []time.Time {
	times := make([]time.Time, len(s.Hourly))
	for i, h := range s.Hourly {
		times[i] = h.Time
	}
	return times
}

// DailyDates returns the daily calendar dates.
func (s *Snapshot) DailyDates() []string {
	dates := make([]string, len(s.Daily))
	for i, d := range s.Daily {
		dates[i] = d.Date
	}
	return dates
}

func (s *Snapshot) validate() error {
	for i := 1; i < len(s.Hourly); i++ {
		if !s.Hourly[i].Time.After(s.Hourly[i-1].Time) {
			return fmt.Errorf("%w: hourly timestamps not ascending at %d", weather.ErrMalformedResponse, i)
		}
	}
	for i := 1; i < len(s.Daily); i++ {
		if s.Daily[i].Date <= s.Daily[i-1].Date {
			return fmt.Errorf("%w: daily dates not ascending at %d", weather.ErrMalformedResponse, i)
		}
	}
	return nil
}

// compute fills the indexes, the current view and index warnings.
func (s *Snapshot) compute(now time.Time) {
	local := now.In(s.Zone())

	s.HourlyIndex, s.HourlyIndexExact = weather.ClosestPastIndex(s.HourlyTimes(), local)
	if !s.HourlyIndexExact {
		s.Warnings = append(s.Warnings, Warning{
			Kind:    KindIndexFallback,
			Source:  "hourly",
			Message: "no hourly entry at or before now, showing the first hour",
		})
	}

	s.DailyIndex, s.DailyIndexExact = weather.TodayIndex(s.DailyDates(), local)
	if !s.DailyIndexExact {
		s.Warnings = append(s.Warnings, Warning{
			Kind:    KindIndexFallback,
			Source:  "daily",
			Message: fmt.Sprintf("no daily entry for %s, showing %s", local.Format(weather.DateLayout), s.Daily[s.DailyIndex].Date),
		})
	}

	s.AQIIndex, s.AQIAvailable = 0, false
	if len(s.AirQuality) > 0 {
		times := make([]time.Time, len(s.AirQuality))
		for i, r := range s.AirQuality {
			times[i] = r.Time
		}
		idx, ok := weather.ClosestPastIndex(times, local)
		s.AQIIndex = idx
		s.AQIAvailable = ok && s.AirQuality[idx].USAQI != nil
	}

	h := s.Hourly[s.HourlyIndex]
	d := s.Daily[s.DailyIndex]

	s.IsDay = s.ReportedIsDay
	if s.DailyIndexExact && !d.Sunrise.IsZero() && !d.Sunset.IsZero() {
		s.IsDay = !local.Before(d.Sunrise) && local.Before(d.Sunset)
	}

	cur := Current{
		Time:                     h.Time,
		Clock:                    local,
		Temperature:              weather.Round(h.Temperature),
		ApparentTemperature:      weather.Round(h.ApparentTemperature),
		PrecipitationProbability: h.PrecipitationProbability,
		UVIndex:                  h.UVIndex,
		WindSpeed:                h.WindSpeed,
		WindDirection:            h.WindDirection,
		WindCompass:              weather.CompassPoint(h.WindDirection),
		Humidity:                 h.Humidity,
		Visibility:               h.Visibility,
		WeatherCode:              h.WeatherCode,
		Condition:                weather.LookupCondition(h.WeatherCode),
		CloudCover:               h.CloudCover,
		SurfacePressure:          h.SurfacePressure,
		TodayMax:                 weather.Round(d.TemperatureMax),
		TodayMin:                 weather.Round(d.TemperatureMin),
		Sunrise:                  d.Sunrise,
		Sunset:                   d.Sunset,
	}
	if s.AQIAvailable {
		aqi := *s.AirQuality[s.AQIIndex].USAQI
		cur.AQI = &aqi
		cur.AQICategory = airquality.Category(aqi)
	}

	s.Current = cur
	s.ComputedAt = now
}
