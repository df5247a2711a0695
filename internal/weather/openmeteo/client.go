// Package openmeteo implements weather.Provider against the Open-Meteo
// forecast API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/provider/resilience"
	"github.com/weatherdash/weatherdash/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openmeteo-forecast"

	// DefaultBaseURL is the Open-Meteo API base URL.
	DefaultBaseURL = "https://api.open-meteo.com/v1"

	// TimeLayout is the local timestamp format used in hourly and daily arrays.
	TimeLayout = "2006-01-02T15:04"
)

// HourlyVariables is the fixed set of hourly variables requested.
const HourlyVariables = "temperature_2m,temperature_80m,apparent_temperature,surface_pressure," +
	"cloudcover,relativehumidity_2m,precipitation_probability,weathercode,visibility," +
	"windspeed_10m,winddirection_10m,uv_index"

// DailyVariables is the fixed set of daily variables requested.
const DailyVariables = "weathercode,temperature_2m_max,temperature_2m_min,sunrise,sunset"

// ClientConfig holds configuration for the Open-Meteo forecast client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public API).
	BaseURL string

	// APIKey is sent as the apikey parameter when set (commercial endpoint).
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an Open-Meteo forecast API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Open-Meteo forecast client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetForecast fetches the hourly and daily forecast for a location.
func (c *Client) GetForecast(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("current_weather", "true")
	q.Set("hourly", HourlyVariables)
	q.Set("daily", DailyVariables)
	q.Set("timezone", "auto")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", weather.ErrProviderUnavailable, resp.StatusCode)
	}

	var omResp forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&omResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", weather.ErrMalformedResponse, err)
	}

	forecast, err := toForecast(&omResp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("timezone", forecast.Timezone).
		Int("hourly", len(forecast.Hourly)).
		Int("daily", len(forecast.Daily)).
		Msg("fetched forecast")

	return forecast, nil
}

// toForecast validates array alignment and converts the response into records.
func toForecast(resp *forecastResponse) (*weather.Forecast, error) {
	loc := weather.ResponseZone(resp.Timezone, resp.UTCOffsetSeconds)

	h := resp.Hourly
	n := len(h.Time)
	hourlyFields := []struct {
		name string
		len  int
	}{
		{"temperature_2m", len(h.Temperature2m)},
		{"temperature_80m", len(h.Temperature80m)},
		{"apparent_temperature", len(h.ApparentTemperature)},
		{"surface_pressure", len(h.SurfacePressure)},
		{"cloudcover", len(h.CloudCover)},
		{"relativehumidity_2m", len(h.RelativeHumidity2m)},
		{"precipitation_probability", len(h.PrecipitationProbability)},
		{"weathercode", len(h.WeatherCode)},
		{"visibility", len(h.Visibility)},
		{"windspeed_10m", len(h.WindSpeed10m)},
		{"winddirection_10m", len(h.WindDirection10m)},
		{"uv_index", len(h.UVIndex)},
	}
	for _, f := range hourlyFields {
		if f.len != n {
			return nil, fmt.Errorf("%w: hourly.%s has %d entries, hourly.time has %d",
				weather.ErrMalformedResponse, f.name, f.len, n)
		}
	}

	d := resp.Daily
	m := len(d.Time)
	dailyFields := []struct {
		name string
		len  int
	}{
		{"weathercode", len(d.WeatherCode)},
		{"temperature_2m_max", len(d.Temperature2mMax)},
		{"temperature_2m_min", len(d.Temperature2mMin)},
		{"sunrise", len(d.Sunrise)},
		{"sunset", len(d.Sunset)},
	}
	for _, f := range dailyFields {
		if f.len != m {
			return nil, fmt.Errorf("%w: daily.%s has %d entries, daily.time has %d",
				weather.ErrMalformedResponse, f.name, f.len, m)
		}
	}

	forecast := &weather.Forecast{
		Lat:              resp.Latitude,
		Lon:              resp.Longitude,
		Timezone:         resp.Timezone,
		UTCOffsetSeconds: resp.UTCOffsetSeconds,
		IsDay:            resp.CurrentWeather.IsDay == 1,
		Hourly:           make([]weather.HourlyRecord, 0, n),
		Daily:            make([]weather.DailyRecord, 0, m),
		FetchedAt:        time.Now(),
	}

	for i := 0; i < n; i++ {
		t, err := time.ParseInLocation(TimeLayout, h.Time[i], loc)
		if err != nil {
			return nil, fmt.Errorf("%w: hourly.time[%d]: %v", weather.ErrMalformedResponse, i, err)
		}
		forecast.Hourly = append(forecast.Hourly, weather.HourlyRecord{
			Time:                     t,
			Temperature:              value(h.Temperature2m[i]),
			Temperature80m:           value(h.Temperature80m[i]),
			ApparentTemperature:      value(h.ApparentTemperature[i]),
			SurfacePressure:          value(h.SurfacePressure[i]),
			CloudCover:               value(h.CloudCover[i]),
			Humidity:                 value(h.RelativeHumidity2m[i]),
			PrecipitationProbability: value(h.PrecipitationProbability[i]),
			WeatherCode:              int(value(h.WeatherCode[i])),
			Visibility:               value(h.Visibility[i]),
			WindSpeed:                value(h.WindSpeed10m[i]),
			WindDirection:            value(h.WindDirection10m[i]),
			UVIndex:                  value(h.UVIndex[i]),
		})
	}

	for i := 0; i < m; i++ {
		if _, err := time.Parse(weather.DateLayout, d.Time[i]); err != nil {
			return nil, fmt.Errorf("%w: daily.time[%d]: %v", weather.ErrMalformedResponse, i, err)
		}
		sunrise, err := parseOptionalTime(d.Sunrise[i], loc)
		if err != nil {
			return nil, fmt.Errorf("%w: daily.sunrise[%d]: %v", weather.ErrMalformedResponse, i, err)
		}
		sunset, err := parseOptionalTime(d.Sunset[i], loc)
		if err != nil {
			return nil, fmt.Errorf("%w: daily.sunset[%d]: %v", weather.ErrMalformedResponse, i, err)
		}
		forecast.Daily = append(forecast.Daily, weather.DailyRecord{
			Date:           d.Time[i],
			TemperatureMax: value(d.Temperature2mMax[i]),
			TemperatureMin: value(d.Temperature2mMin[i]),
			WeatherCode:    int(value(d.WeatherCode[i])),
			Sunrise:        sunrise,
			Sunset:         sunset,
		})
	}

	return forecast, nil
}

// value treats a null entry as zero.
func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// parseOptionalTime parses a local timestamp; polar days have no sunrise or
// sunset and yield the zero time.
func parseOptionalTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimeLayout, s, loc)
}

// Open-Meteo API response structures.

type forecastResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	CurrentWeather   struct {
		Temperature   float64 `json:"temperature"`
		WindSpeed     float64 `json:"windspeed"`
		WindDirection float64 `json:"winddirection"`
		WeatherCode   int     `json:"weathercode"`
		IsDay         int     `json:"is_day"`
		Time          string  `json:"time"`
	} `json:"current_weather"`
	Hourly struct {
		Time                     []string   `json:"time"`
		Temperature2m            []*float64 `json:"temperature_2m"`
		Temperature80m           []*float64 `json:"temperature_80m"`
		ApparentTemperature      []*float64 `json:"apparent_temperature"`
		SurfacePressure          []*float64 `json:"surface_pressure"`
		CloudCover               []*float64 `json:"cloudcover"`
		RelativeHumidity2m       []*float64 `json:"relativehumidity_2m"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		WeatherCode              []*float64 `json:"weathercode"`
		Visibility               []*float64 `json:"visibility"`
		WindSpeed10m             []*float64 `json:"windspeed_10m"`
		WindDirection10m         []*float64 `json:"winddirection_10m"`
		UVIndex                  []*float64 `json:"uv_index"`
	} `json:"hourly"`
	Daily struct {
		Time             []string   `json:"time"`
		WeatherCode      []*float64 `json:"weathercode"`
		Temperature2mMax []*float64 `json:"temperature_2m_max"`
		Temperature2mMin []*float64 `json:"temperature_2m_min"`
		Sunrise          []string   `json:"sunrise"`
		Sunset           []string   `json:"sunset"`
	} `json:"daily"`
}
