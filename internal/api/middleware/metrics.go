package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/weatherdash/weatherdash/internal/api/middleware"

// Dashboard pages render in milliseconds; refreshes can take the full
// provider timeout.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the HTTP server instruments.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	active   metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var errs [4]error

	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	m.requests, errs[1] = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("HTTP server requests by route and status"),
		metric.WithUnit("{request}"))
	m.active, errs[2] = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("HTTP requests in progress"),
		metric.WithUnit("{request}"))
	m.bodySize, errs[3] = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Size of HTTP response bodies"),
		metric.WithUnit("By"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records duration, count and size per route. The route label is
// the chi pattern, so path parameters do not inflate cardinality.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			method := semconv.HTTPRequestMethodKey.String(r.Method)
			inFlight := metric.WithAttributes(method)
			m.active.Add(ctx, 1, inFlight)
			defer m.active.Add(ctx, -1, inFlight)

			rec := record(w)
			next.ServeHTTP(rec, r)

			attrs := []attribute.KeyValue{
				method,
				semconv.HTTPRoute(routePattern(r)),
				semconv.HTTPResponseStatusCode(rec.status),
			}
			if rec.status >= http.StatusInternalServerError {
				attrs = append(attrs, semconv.ErrorTypeKey.String(strconv.Itoa(rec.status)))
			}
			opt := metric.WithAttributes(attrs...)

			m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			m.requests.Add(ctx, 1, opt)
			m.bodySize.Record(ctx, rec.written, opt)
		})
	}
}
