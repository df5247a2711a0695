package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/weatherdash/weatherdash/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Requests per window
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// StandardRateLimit applies to read endpoints (120 req/min).
var StandardRateLimit = RateLimitConfig{
	RequestLimit: 120,
	WindowLength: time.Minute,
}

// RefreshRateLimit allows perMinute explicit refreshes per client per minute.
func RefreshRateLimit(perMinute int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: perMinute, WindowLength: time.Minute}
}

// RateLimitByIP limits requests per client IP. Behind a proxy, chi's RealIP
// must run first.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
			problem.Instance = r.URL.Path

			// httprate does not expose the window reset, so advertise a full window.
			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w)
		}),
	)
}
