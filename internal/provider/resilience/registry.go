package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time view of one upstream client.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State

	// Counts are the breaker counts of the current generation. They reset
	// on every state change.
	Counts gobreaker.Counts

	// Trips counts how often the breaker has opened since start.
	Trips uint32

	StateChangedAt *time.Time
	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	LastError      string
}

// IsDegraded reports a half-open breaker that is probing the provider.
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports an open breaker.
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

var (
	circuitStateDesc = prometheus.NewDesc(
		"weatherdash_provider_circuit_state",
		"Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		[]string{"provider"}, nil,
	)
	circuitTripsDesc = prometheus.NewDesc(
		"weatherdash_provider_circuit_trips_total",
		"Number of times the provider circuit breaker opened.",
		[]string{"provider"}, nil,
	)
	consecutiveFailuresDesc = prometheus.NewDesc(
		"weatherdash_provider_consecutive_failures",
		"Consecutive failed attempts against the provider.",
		[]string{"provider"}, nil,
	)
)

// Registry tracks the upstream clients and their health. It is also a
// prometheus.Collector exporting breaker state per provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	now       func() time.Time
}

type registeredProvider struct {
	client         *Client
	trips          uint32
	stateChangedAt *time.Time
	lastSuccessAt  *time.Time
	lastFailureAt  *time.Time
	lastError      string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registeredProvider),
		now:       time.Now,
	}
}

// Register adds a client under name. Registering a name twice replaces the
// client and resets its history.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &registeredProvider{client: client}
}

// RecordSuccess stamps the last successful call for name.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.lastSuccessAt = &now
	})
}

// RecordFailure stamps the last failed call for name and keeps its error.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// recordStateChange is wired into the breaker's OnStateChange. gobreaker
// calls it while holding the breaker lock.
func (r *Registry) recordStateChange(name string, to gobreaker.State) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.stateChangedAt = &now
		if to == gobreaker.StateOpen {
			p.trips++
		}
	})
}

func (r *Registry) update(name string, fn func(p *registeredProvider, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, r.now())
	}
}

// GetHealth returns the health of name, or nil when it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	p, ok := r.providers[name]
	var snap registeredProvider
	if ok {
		snap = *p
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return snap.health(name)
}

// GetAllHealth returns the health of every registered client sorted by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	names := r.sortedNames()
	snaps := make([]registeredProvider, len(names))
	for i, name := range names {
		snaps[i] = *r.providers[name]
	}
	r.mu.RUnlock()

	health := make([]*ProviderHealth, 0, len(names))
	for i, name := range names {
		health = append(health, snaps[i].health(name))
	}
	return health
}

// GetProviderNames returns the registered names sorted.
func (r *Registry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// health reads the breaker, which takes the breaker lock. Callers must not
// hold r.mu because OnStateChange acquires the two in the opposite order.
func (p *registeredProvider) health(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:           name,
		CircuitState:   p.client.CircuitBreakerState(),
		Counts:         p.client.CircuitBreakerCounts(),
		Trips:          p.trips,
		StateChangedAt: p.stateChangedAt,
		LastSuccessAt:  p.lastSuccessAt,
		LastFailureAt:  p.lastFailureAt,
		LastError:      p.lastError,
	}
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- circuitStateDesc
	ch <- circuitTripsDesc
	ch <- consecutiveFailuresDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, h := range r.GetAllHealth() {
		ch <- prometheus.MustNewConstMetric(circuitStateDesc, prometheus.GaugeValue, float64(h.CircuitState), h.Name)
		ch <- prometheus.MustNewConstMetric(circuitTripsDesc, prometheus.CounterValue, float64(h.Trips), h.Name)
		ch <- prometheus.MustNewConstMetric(consecutiveFailuresDesc, prometheus.GaugeValue,
			float64(h.Counts.ConsecutiveFailures), h.Name)
	}
}
