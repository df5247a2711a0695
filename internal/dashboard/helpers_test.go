package dashboard_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/weather"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newForecast builds a UTC forecast with 48 hourly and 3 daily entries
// starting at day0. Hourly temperatures are 10.5, 11.5, ... plus offset.
func newForecast(offset float64) *weather.Forecast {
	f := &weather.Forecast{
		Lat:       52.37,
		Lon:       4.89,
		Timezone:  "UTC",
		IsDay:     true,
		FetchedAt: day0,
	}
	for i := 0; i < 48; i++ {
		fi := float64(i)
		f.Hourly = append(f.Hourly, weather.HourlyRecord{
			Time:                     day0.Add(time.Duration(i) * time.Hour),
			Temperature:              10.5 + fi + offset,
			Temperature80m:           11 + fi,
			ApparentTemperature:      8.4 + fi + offset,
			SurfacePressure:          1000 + fi,
			CloudCover:               fi,
			Humidity:                 50 + fi/2,
			PrecipitationProbability: fi * 2,
			WeatherCode:              []int{0, 1, 2, 3, 61, 95}[i%6],
			Visibility:               10000 + fi*100,
			WindSpeed:                5 + fi/10,
			WindDirection:            fi * 7,
			UVIndex:                  fi / 10,
		})
	}
	for i := 0; i < 3; i++ {
		date := day0.AddDate(0, 0, i)
		f.Daily = append(f.Daily, weather.DailyRecord{
			Date:           date.Format(weather.DateLayout),
			TemperatureMax: 15.5 + float64(i),
			TemperatureMin: 4.4 + float64(i),
			WeatherCode:    3,
			Sunrise:        date.Add(8 * time.Hour),
			Sunset:         date.Add(17 * time.Hour),
		})
	}
	return f
}

// fetchedAt returns a forecast func whose forecasts were fetched at t.
func fetchedAt(t time.Time) forecastFunc {
	return func(_ context.Context, _, _ float64) (*weather.Forecast, error) {
		f := newForecast(0)
		f.FetchedAt = t
		return f, nil
	}
}

func newSeries(values ...int) *airquality.Series {
	s := &airquality.Series{Timezone: "UTC"}
	for i, v := range values {
		v := v
		r := airquality.Reading{Time: day0.Add(time.Duration(i) * time.Hour)}
		if v >= 0 {
			r.USAQI = &v
		}
		s.Readings = append(s.Readings, r)
	}
	return s
}

type forecastFunc func(ctx context.Context, lat, lon float64) (*weather.Forecast, error)

type mockForecast struct {
	mu    sync.Mutex
	calls int
	fn    forecastFunc
}

func (m *mockForecast) Name() string { return "mock-forecast" }

func (m *mockForecast) GetForecast(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
	m.mu.Lock()
	m.calls++
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		return newForecast(0), nil
	}
	return fn(ctx, lat, lon)
}

func (m *mockForecast) set(fn forecastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *mockForecast) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockAirQuality struct {
	mu     sync.Mutex
	calls  int
	series *airquality.Series
	err    error
	before func()
}

func (m *mockAirQuality) Name() string { return "mock-aq" }

func (m *mockAirQuality) GetUSAQI(_ context.Context, _, _ float64) (*airquality.Series, error) {
	m.mu.Lock()
	m.calls++
	before := m.before
	m.mu.Unlock()
	if before != nil {
		before()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.series, nil
}

type mockGeocoder struct {
	mu    sync.Mutex
	calls int
	addr  *geocode.Address
	err   error
}

func (m *mockGeocoder) Name() string { return "mock-geocode" }

func (m *mockGeocoder) Reverse(_ context.Context, _, _ float64) (*geocode.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.addr, nil
}

func (m *mockGeocoder) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockGeocoder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type switchLocator struct {
	mu     sync.Mutex
	coords location.Coordinates
	err    error
}

func (l *switchLocator) Locate(_ context.Context) (location.Coordinates, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coords, l.err
}

func (l *switchLocator) set(coords location.Coordinates, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coords = coords
	l.err = err
}

type loadingRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *loadingRecorder) record(loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, loading)
}

func (r *loadingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

var errUpstream = errors.New("upstream exploded")
