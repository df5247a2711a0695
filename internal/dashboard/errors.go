package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
	"github.com/weatherdash/weatherdash/internal/weather"
)

// Dashboard errors.
var (
	ErrNoSnapshot = errors.New("no snapshot available")
	ErrSuperseded = errors.New("refresh superseded by a newer result")
)

// ErrorKind classifies failures for display and recovery.
type ErrorKind string

const (
	KindNetwork             ErrorKind = "network"
	KindMalformedResponse   ErrorKind = "malformed_response"
	KindLocationUnavailable ErrorKind = "location_unavailable"
	KindIndexFallback       ErrorKind = "index_fallback"
	KindUnknown             ErrorKind = "unknown"
)

// Classify maps an error to its kind. A nil error has no kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) && refreshErr.Kind != "" {
		return refreshErr.Kind
	}

	switch {
	case errors.Is(err, location.ErrUnsupported),
		errors.Is(err, location.ErrDenied),
		errors.Is(err, location.ErrInvalidCoordinates),
		errors.Is(err, weather.ErrInvalidCoordinates):
		return KindLocationUnavailable

	case errors.Is(err, weather.ErrMalformedResponse),
		errors.Is(err, weather.ErrEmptyForecast),
		errors.Is(err, airquality.ErrMalformedResponse):
		return KindMalformedResponse

	case errors.Is(err, weather.ErrProviderUnavailable),
		errors.Is(err, airquality.ErrProviderUnavailable),
		errors.Is(err, geocode.ErrProviderUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindMalformedResponse
	}

	var serverErr *resilience.ServerError
	var netErr net.Error
	if errors.As(err, &serverErr) || errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUnknown
}

// RefreshError records which stage of a refresh failed.
type RefreshError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func newRefreshError(stage string, err error) *RefreshError {
	return &RefreshError{Stage: stage, Kind: Classify(err), Err: err}
}

// Warning is a degraded-but-served condition attached to a snapshot.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// ErrorInfo is the last refresh failure shown to the user.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
