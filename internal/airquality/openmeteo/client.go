// Package openmeteo implements airquality.Provider against the Open-Meteo
// air quality API.
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

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
	"github.com/weatherdash/weatherdash/internal/weather"
)

const (
	// ProviderName identifies this air quality provider.
	ProviderName = "openmeteo-airquality"

	// DefaultBaseURL is the Open-Meteo air quality API base URL.
	DefaultBaseURL = "https://air-quality-api.open-meteo.com/v1"

	timeLayout = "2006-01-02T15:04"
)

// ClientConfig holds configuration for the air quality client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional).
	BaseURL string

	// APIKey is sent as the apikey parameter when set.
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an Open-Meteo air quality API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new air quality client.
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

// GetUSAQI fetches the hourly US AQI series for a location.
func (c *Client) GetUSAQI(ctx context.Context, lat, lon float64) (*airquality.Series, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("hourly", "us_aqi")
	q.Set("timezone", "auto")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/air-quality?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", airquality.ErrProviderUnavailable, resp.StatusCode)
	}

	var aqResp airQualityResponse
	if err := json.NewDecoder(resp.Body).Decode(&aqResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", airquality.ErrMalformedResponse, err)
	}

	if len(aqResp.Hourly.USAQI) != len(aqResp.Hourly.Time) {
		return nil, fmt.Errorf("%w: hourly.us_aqi has %d entries, hourly.time has %d",
			airquality.ErrMalformedResponse, len(aqResp.Hourly.USAQI), len(aqResp.Hourly.Time))
	}

	loc := weather.ResponseZone(aqResp.Timezone, aqResp.UTCOffsetSeconds)
	series := &airquality.Series{
		Lat:       aqResp.Latitude,
		Lon:       aqResp.Longitude,
		Timezone:  aqResp.Timezone,
		Readings:  make([]airquality.Reading, 0, len(aqResp.Hourly.Time)),
		FetchedAt: time.Now(),
	}

	for i, ts := range aqResp.Hourly.Time {
		t, err := time.ParseInLocation(timeLayout, ts, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: hourly.time[%d]: %v", airquality.ErrMalformedResponse, i, err)
		}

		reading := airquality.Reading{Time: t}
		if v := aqResp.Hourly.USAQI[i]; v != nil {
			aqi := int(*v)
			reading.USAQI = &aqi
		}
		series.Readings = append(series.Readings, reading)
	}

	c.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Int("readings", len(series.Readings)).
		Msg("fetched air quality series")

	return series, nil
}

// Open-Meteo air quality response structure.
type airQualityResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	Hourly           struct {
		Time  []string   `json:"time"`
		USAQI []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}
