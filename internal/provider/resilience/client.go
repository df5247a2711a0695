package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned without calling the provider while its breaker
// is open or its half-open probe slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures a Client. Start from DefaultClientConfig; zero
// values in Timeout and the backoff intervals fall back to the defaults, a
// zero MaxRetries means a single attempt.
type ClientConfig struct {
	// Name labels the breaker, the registry entry and the metrics.
	Name string

	// Timeout bounds one attempt including reading headers.
	Timeout time.Duration

	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int

	// Registry, when set, tracks this client's health under Name.
	Registry *Registry
}

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// DefaultClientConfig returns the settings used for every upstream API.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         defaultTimeout,
		MaxRetries:      defaultMaxRetries,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

// Client sends requests through a circuit breaker with retries. A 5xx
// response counts as a breaker failure and is retried; when retries run out
// the last 5xx response is returned to the caller with a nil error.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
}

// NewClient builds a client and registers it with cfg.Registry.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
		cbConfig.Name = cfg.Name
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker[*http.Response](cbConfig, cfg.Registry), //nolint:bodyclose // type parameter
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Do sends req, waiting for the rate limiter first. Retries stop on
// success, a 4xx, an open breaker or a cancelled request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	resp, err := c.retry(ctx, req)
	c.record(resp, err)
	return resp, err
}

func (c *Client) retry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastServerError *http.Response

	attempt := func() (*http.Response, error) {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.send(ctx, req)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			if resp != nil {
				discard(lastServerError)
				lastServerError = resp
			}
			return nil, err
		}
		discard(lastServerError)
		lastServerError = nil
		return resp, nil
	}

	resp, err := backoff.RetryWithData(attempt, c.backoff(ctx))
	if err != nil && lastServerError != nil {
		return lastServerError, nil
	}
	return resp, err
}

// send makes one attempt. A 5xx is returned together with a ServerError so
// the breaker counts it.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
		}
		attemptReq.Body = body
	}

	resp, err := c.http.Do(attemptReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, &ServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)
}

func (c *Client) record(resp *http.Response, err error) {
	r := c.cfg.Registry
	if r == nil {
		return
	}
	switch {
	case err != nil:
		r.RecordFailure(c.cfg.Name, err)
	case resp.StatusCode >= http.StatusInternalServerError:
		r.RecordFailure(c.cfg.Name, &ServerError{StatusCode: resp.StatusCode})
	default:
		r.RecordSuccess(c.cfg.Name)
	}
}

// discard drains and closes a response that will not reach the caller.
func discard(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// ServerError is an upstream 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the breaker state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// CircuitBreakerCounts returns the counts of the current breaker generation.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

// Name returns the name the client was registered under.
func (c *Client) Name() string {
	return c.cfg.Name
}
