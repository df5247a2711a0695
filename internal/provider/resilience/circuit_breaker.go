// Package resilience wraps outbound provider calls with a circuit breaker,
// retries with backoff, an optional rate limit and health tracking.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultFailureThreshold is the number of consecutive failed attempts that
// opens a breaker. With the default three retries one failing call makes four
// attempts, so the breaker opens during the second failing call.
const DefaultFailureThreshold = 5

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in the registry and in metrics.
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the counts while closed. Zero keeps them until the
	// state changes.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// Default: 60 seconds
	Timeout time.Duration

	// ReadyToTrip decides when to open. Default: DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called on every state transition, after the registry
	// has recorded it.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the default configuration for name.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker after DefaultFailureThreshold
// consecutive failures.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	return counts.ConsecutiveFailures >= DefaultFailureThreshold
}

// isSuccessful reports whether err leaves the breaker counts as a success. A
// cancelled call says nothing about the provider.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewCircuitBreaker creates a circuit breaker. When registry is set it
// records every state transition under cfg.Name.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig, registry *Registry) *gobreaker.CircuitBreaker[T] {
	readyToTrip := cfg.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = DefaultReadyToTrip
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  maxRequests,
		Interval:     cfg.Interval,
		Timeout:      timeout,
		ReadyToTrip:  readyToTrip,
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if registry != nil {
				registry.recordStateChange(name, to)
			}
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})
}
