// Package geocode resolves coordinates to a human-readable address.
package geocode

import (
	"context"
	"errors"
	"strings"
)

// Geocode errors.
var (
	ErrNotFound            = errors.New("no address for location")
	ErrProviderUnavailable = errors.New("geocode provider unavailable")
)

// Provider defines the interface for reverse geocoding providers.
type Provider interface {
	// Reverse resolves coordinates into an address.
	Reverse(ctx context.Context, lat, lon float64) (*Address, error)

	// Name returns the provider name for logging.
	Name() string
}

// Address is the subset of a reverse geocoding result shown on the dashboard.
type Address struct {
	City        string `json:"city"`
	State       string `json:"state"`
	CountryCode string `json:"countryCode"`
	Country     string `json:"country"`
}

// Label formats the address as "City, State, CC", skipping empty parts.
func (a *Address) Label() string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{a.City, a.State, strings.ToUpper(a.CountryCode)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// IsZero reports whether no address component is set.
func (a *Address) IsZero() bool {
	return a == nil || (a.City == "" && a.State == "" && a.CountryCode == "" && a.Country == "")
}
