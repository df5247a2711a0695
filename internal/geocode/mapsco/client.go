// Package mapsco implements geocode.Provider against the geocode.maps.co
// reverse geocoding API.
package mapsco

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocode provider.
	ProviderName = "mapsco"

	// DefaultBaseURL is the geocode.maps.co base URL.
	DefaultBaseURL = "https://geocode.maps.co"

	// DefaultRateLimit is the free tier request rate (requests per second).
	DefaultRateLimit = 1.0
)

// ClientConfig holds configuration for the maps.co client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional).
	BaseURL string

	// APIKey is sent as the api_key parameter when set.
	APIKey string

	// HTTPClient is the HTTP client to use (optional). If nil, a resilient
	// client limited to DefaultRateLimit is created.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a geocode.maps.co reverse geocoding client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new maps.co client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.RateLimit = DefaultRateLimit
		httpClient = resilience.NewClient(clientCfg)
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

// Reverse resolves coordinates into an address.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*geocode.Address, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, geocode.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", geocode.ErrProviderUnavailable, resp.StatusCode)
	}

	var rev reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&rev); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if rev.Error != "" {
		return nil, fmt.Errorf("%w: %s", geocode.ErrNotFound, rev.Error)
	}

	addr := toAddress(&rev)

	c.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("label", addr.Label()).
		Msg("reverse geocoded location")

	return addr, nil
}

// toAddress picks the most specific settlement name available.
func toAddress(rev *reverseResponse) *geocode.Address {
	a := rev.Address
	city := a.City
	for _, alt := range []string{a.Town, a.Village, a.Municipality, a.County} {
		if city != "" {
			break
		}
		city = alt
	}

	return &geocode.Address{
		City:        city,
		State:       a.State,
		CountryCode: a.CountryCode,
		Country:     a.Country,
	}
}

// maps.co API response structure.
type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
		State        string `json:"state"`
		Country      string `json:"country"`
		CountryCode  string `json:"country_code"`
	} `json:"address"`
}
