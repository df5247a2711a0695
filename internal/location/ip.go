package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/provider/resilience"
)

// DefaultIPLookupURL returns the caller's approximate position as JSON.
const DefaultIPLookupURL = "https://ipapi.co/json/"

// IPLocatorConfig holds configuration for the IP locator.
type IPLocatorConfig struct {
	// URL is the lookup endpoint (optional).
	URL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *resilience.Client

	// Logger for lookup operations.
	Logger zerolog.Logger
}

// IPLocator approximates the position from the host's public IP address.
type IPLocator struct {
	url        string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewIPLocator creates a new IP locator.
func NewIPLocator(cfg IPLocatorConfig) *IPLocator {
	u := cfg.URL
	if u == "" {
		u = DefaultIPLookupURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig("ip-locator"))
	}

	return &IPLocator{
		url:        u,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Locate looks up the public IP position.
func (l *IPLocator) Locate(ctx context.Context) (Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, http.NoBody)
	if err != nil {
		return Coordinates{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return Coordinates{}, fmt.Errorf("%w: status %d", ErrDenied, resp.StatusCode)
	default:
		return Coordinates{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body ipLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Coordinates{}, fmt.Errorf("decoding response: %w", err)
	}
	if body.Error {
		return Coordinates{}, fmt.Errorf("%w: %s", ErrDenied, body.Reason)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return Coordinates{}, ErrUnsupported
	}

	coords := Coordinates{Lat: *body.Latitude, Lon: *body.Longitude}
	if err := coords.Validate(); err != nil {
		return Coordinates{}, err
	}

	l.logger.Debug().
		Float64("lat", coords.Lat).
		Float64("lon", coords.Lon).
		Str("city", body.City).
		Msg("located by ip")

	return coords, nil
}

type ipLookupResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
}
