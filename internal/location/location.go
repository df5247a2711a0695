// Package location provides the geolocation capability: single-shot lookups
// of the coordinates the dashboard should show weather for.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Location errors.
var (
	// ErrUnsupported is returned when no geolocation source is available.
	ErrUnsupported = errors.New("geolocation not supported")

	// ErrDenied is returned when a geolocation source refuses the request.
	ErrDenied = errors.New("geolocation denied")

	// ErrInvalidCoordinates is returned for out-of-range coordinates.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the coordinates are in range.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: %.4f,%.4f", ErrInvalidCoordinates, c.Lat, c.Lon)
	}
	return nil
}

// Locator resolves the current position.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// StaticLocator returns configured coordinates.
type StaticLocator struct {
	coords *Coordinates
}

// NewStaticLocator creates a locator for fixed coordinates. A nil coords
// makes every lookup fail with ErrUnsupported.
func NewStaticLocator(coords *Coordinates) *StaticLocator {
	return &StaticLocator{coords: coords}
}

// Locate returns the configured coordinates.
func (l *StaticLocator) Locate(_ context.Context) (Coordinates, error) {
	if l.coords == nil {
		return Coordinates{}, ErrUnsupported
	}
	if err := l.coords.Validate(); err != nil {
		return Coordinates{}, err
	}
	return *l.coords, nil
}

// ChainLocator tries locators in order; the first success wins.
type ChainLocator struct {
	locators []Locator
}

// NewChainLocator creates a chain of locators.
func NewChainLocator(locators ...Locator) *ChainLocator {
	return &ChainLocator{locators: locators}
}

// Locate returns the first successful lookup, or the joined errors of all
// locators. An empty chain returns ErrUnsupported.
func (c *ChainLocator) Locate(ctx context.Context) (Coordinates, error) {
	if len(c.locators) == 0 {
		return Coordinates{}, ErrUnsupported
	}

	var errs []error
	for _, l := range c.locators {
		coords, err := l.Locate(ctx)
		if err == nil {
			return coords, nil
		}
		if ctx.Err() != nil {
			return Coordinates{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	return Coordinates{}, errors.Join(errs...)
}

// OverrideLocator returns user-chosen coordinates when set and falls back to
// another locator otherwise.
type OverrideLocator struct {
	fallback Locator

	mu       sync.RWMutex
	override *Coordinates
}

// NewOverrideLocator creates an override locator on top of fallback.
func NewOverrideLocator(fallback Locator) *OverrideLocator {
	return &OverrideLocator{fallback: fallback}
}

// Set stores user-chosen coordinates.
func (o *OverrideLocator) Set(coords Coordinates) error {
	if err := coords.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.override = &coords
	return nil
}

// Clear removes the override.
func (o *OverrideLocator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.override = nil
}

// Override returns the user-chosen coordinates, if any.
func (o *OverrideLocator) Override() (Coordinates, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.override == nil {
		return Coordinates{}, false
	}
	return *o.override, true
}

// Locate returns the override when set, otherwise asks the fallback.
func (o *OverrideLocator) Locate(ctx context.Context) (Coordinates, error) {
	o.mu.RLock()
	override := o.override
	o.mu.RUnlock()

	if override != nil {
		return *override, nil
	}
	if o.fallback == nil {
		return Coordinates{}, ErrUnsupported
	}
	return o.fallback.Locate(ctx)
}
