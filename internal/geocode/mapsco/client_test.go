package mapsco_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherdash/weatherdash/internal/geocode"
	"github.com/weatherdash/weatherdash/internal/geocode/mapsco"
	"github.com/weatherdash/weatherdash/internal/provider/resilience"
)

func newTestClient(baseURL, apiKey string) *mapsco.Client {
	cfg := resilience.DefaultClientConfig("test-mapsco")
	cfg.MaxRetries = 1
	cfg.InitialInterval = time.Millisecond
	return mapsco.NewClient(mapsco.ClientConfig{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: resilience.NewClient(cfg),
	})
}

func TestClient_Reverse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "52.370000", r.URL.Query().Get("lat"))
		assert.Equal(t, "4.890000", r.URL.Query().Get("lon"))
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))

		_, _ = w.Write([]byte(`{
			"display_name": "Dam, Amsterdam, Noord-Holland, Nederland",
			"address": {
				"city": "Amsterdam",
				"state": "North Holland",
				"country": "Netherlands",
				"country_code": "nl"
			}
		}`))
	}))
	defer server.Close()

	addr, err := newTestClient(server.URL, "key").Reverse(context.Background(), 52.37, 4.89)
	require.NoError(t, err)

	assert.Equal(t, &geocode.Address{
		City:        "Amsterdam",
		State:       "North Holland",
		CountryCode: "nl",
		Country:     "Netherlands",
	}, addr)
}

func TestClient_Reverse_TownFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"address": {"village": "Giethoorn", "state": "Overijssel", "country_code": "nl"}}`))
	}))
	defer server.Close()

	addr, err := newTestClient(server.URL, "").Reverse(context.Background(), 52.74, 6.08)
	require.NoError(t, err)
	assert.Equal(t, "Giethoorn", addr.City)
	assert.Equal(t, "Giethoorn, Overijssel, NL", addr.Label())
}

func TestClient_Reverse_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Unable to geocode"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, geocode.ErrNotFound)
}

func TestClient_Reverse_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, geocode.ErrProviderUnavailable)
}

func TestClient_DefaultRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"address": {"city": "Utrecht"}}`))
	}))
	defer server.Close()

	client := mapsco.NewClient(mapsco.ClientConfig{BaseURL: server.URL})

	_, err := client.Reverse(context.Background(), 52.09, 5.12)
	require.NoError(t, err)

	// The free tier allows one call per second; a second call inside the
	// window blocks until the context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Reverse(ctx, 52.09, 5.12)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, mapsco.ProviderName, client.Name())
}
