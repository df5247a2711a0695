package location_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherdash/weatherdash/internal/location"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
)

type failingLocator struct {
	err   error
	calls int
}

func (f *failingLocator) Locate(_ context.Context) (location.Coordinates, error) {
	f.calls++
	return location.Coordinates{}, f.err
}

func TestCoordinates_Validate(t *testing.T) {
	assert.NoError(t, location.Coordinates{Lat: 52.37, Lon: 4.89}.Validate())
	assert.ErrorIs(t, location.Coordinates{Lat: 95}.Validate(), location.ErrInvalidCoordinates)
	assert.ErrorIs(t, location.Coordinates{Lon: 200}.Validate(), location.ErrInvalidCoordinates)
}

func TestStaticLocator(t *testing.T) {
	coords := &location.Coordinates{Lat: 52.37, Lon: 4.89}
	got, err := location.NewStaticLocator(coords).Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *coords, got)

	_, err = location.NewStaticLocator(nil).Locate(context.Background())
	assert.ErrorIs(t, err, location.ErrUnsupported)
}

func TestChainLocator(t *testing.T) {
	first := &failingLocator{err: location.ErrDenied}
	second := location.NewStaticLocator(&location.Coordinates{Lat: 1, Lon: 2})

	got, err := location.NewChainLocator(first, second).Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, location.Coordinates{Lat: 1, Lon: 2}, got)
	assert.Equal(t, 1, first.calls)
}

func TestChainLocator_AllFail(t *testing.T) {
	chain := location.NewChainLocator(
		&failingLocator{err: location.ErrDenied},
		location.NewStaticLocator(nil),
	)

	_, err := chain.Locate(context.Background())
	assert.ErrorIs(t, err, location.ErrDenied)
	assert.ErrorIs(t, err, location.ErrUnsupported)

	_, err = location.NewChainLocator().Locate(context.Background())
	assert.ErrorIs(t, err, location.ErrUnsupported)
}

func TestOverrideLocator(t *testing.T) {
	fallback := location.NewStaticLocator(&location.Coordinates{Lat: 10, Lon: 10})
	o := location.NewOverrideLocator(fallback)
	ctx := context.Background()

	got, err := o.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, location.Coordinates{Lat: 10, Lon: 10}, got)
	_, ok := o.Override()
	assert.False(t, ok)

	require.NoError(t, o.Set(location.Coordinates{Lat: 48.85, Lon: 2.35}))
	got, err = o.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, location.Coordinates{Lat: 48.85, Lon: 2.35}, got)
	chosen, ok := o.Override()
	assert.True(t, ok)
	assert.Equal(t, got, chosen)

	assert.ErrorIs(t, o.Set(location.Coordinates{Lat: -100}), location.ErrInvalidCoordinates)

	o.Clear()
	_, ok = o.Override()
	assert.False(t, ok)
	got, err = o.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, location.Coordinates{Lat: 10, Lon: 10}, got)

	_, err = location.NewOverrideLocator(nil).Locate(ctx)
	assert.ErrorIs(t, err, location.ErrUnsupported)
}

func newIPLocator(url string) *location.IPLocator {
	cfg := resilience.DefaultClientConfig("test-ip")
	cfg.MaxRetries = 1
	cfg.InitialInterval = time.Millisecond
	return location.NewIPLocator(location.IPLocatorConfig{
		URL:        url,
		HTTPClient: resilience.NewClient(cfg),
	})
}

func TestIPLocator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Amsterdam","latitude":52.3759,"longitude":4.8975}`))
	}))
	defer server.Close()

	got, err := newIPLocator(server.URL).Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, location.Coordinates{Lat: 52.3759, Lon: 4.8975}, got)
}

func TestIPLocator_Denied(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "forbidden", status: http.StatusForbidden, wantErr: location.ErrDenied},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: location.ErrDenied},
		{name: "error body", status: http.StatusOK, body: `{"error":true,"reason":"RateLimited"}`, wantErr: location.ErrDenied},
		{name: "no position", status: http.StatusOK, body: `{"ip":"127.0.0.1"}`, wantErr: location.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newIPLocator(server.URL).Locate(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIPLocator_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newIPLocator(url).Locate(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, location.ErrDenied))
}
