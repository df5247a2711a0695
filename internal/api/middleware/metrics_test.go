package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/weatherdash/weatherdash/internal/api/middleware"
)

func newTestMetrics(t *testing.T) (*middleware.Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := middleware.NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func requestCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http.server.request.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("http.route")
				status, _ := dp.Attributes.Value("http.response.status_code")
				counts[route.AsString()+" "+status.Emit()] += dp.Value
			}
		}
	}
	return counts
}

func TestNewMetrics(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}

func TestMetrics_CountsByRouteAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/v1/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/v1/things/1", "/v1/things/2", "/v1/things/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	assert.Equal(t, map[string]int64{
		"/v1/things/{id} 200": 2,
		"/v1/things/{id} 404": 1,
	}, requestCounts(t, reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return nil
}

func TestMetrics_ServerErrorsCarryErrorType(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", http.NoBody))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", http.NoBody))

	sum, ok := collect(t, reader, "http.server.request.total").(metricdata.Sum[int64])
	require.True(t, ok)
	errorTypes := make(map[string]string)
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value("http.route")
		errType, _ := dp.Attributes.Value("error.type")
		errorTypes[route.AsString()] = errType.AsString()
	}
	assert.Equal(t, map[string]string{"/broken": "503", "/fine": ""}, errorTypes)

	active, ok := collect(t, reader, "http.server.active_requests").(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestMetrics_PassesResponseThrough(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("error"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/dashboard/refresh", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", w.Body.String())
}

func TestMetrics_UnroutedPathFallsBack(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("response"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", http.NoBody))

	assert.Equal(t, map[string]int64{"/plain 200": 1}, requestCounts(t, reader))
}
