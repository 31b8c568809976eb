// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, timeout and retry guards used
// around every tier call.
package resilience

import (
	"sort"
	"sync"

	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// BreakerRegistry owns one circuit breaker per guarded tier or tier+target.
// It is scoped to whoever creates it; there is no process-wide instance.
type BreakerRegistry struct {
	mu        sync.RWMutex
	defaults  CircuitBreakerConfig
	overrides map[tier.Name]CircuitBreakerConfig
	breakers  map[string]*CircuitBreaker
}

// RegistryOption configures a BreakerRegistry.
type RegistryOption func(*BreakerRegistry)

// WithTierBreakerConfig overrides breaker settings for a single tier.
func WithTierBreakerConfig(t tier.Name, config CircuitBreakerConfig) RegistryOption {
	return func(r *BreakerRegistry) {
		r.overrides[t] = config
	}
}

// NewBreakerRegistry creates a registry whose breakers start from defaults.
func NewBreakerRegistry(defaults CircuitBreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		defaults:  defaults,
		overrides: make(map[tier.Name]CircuitBreakerConfig),
		breakers:  make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BreakerKey builds the registry key for a tier and optional target.
func BreakerKey(t tier.Name, target string) string {
	if target == "" {
		return string(t)
	}
	return string(t) + "/" + target
}

// Get returns the breaker for tier+target, creating it on first use.
func (r *BreakerRegistry) Get(t tier.Name, target string) *CircuitBreaker {
	key := BreakerKey(t, target)

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	config := r.defaults
	if override, ok := r.overrides[t]; ok {
		config = mergeConfig(config, override)
	}
	config.Name = key
	config.Tier = t
	cb = NewCircuitBreaker(config)
	r.breakers[key] = cb
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *BreakerRegistry) Lookup(key string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[key]
	return cb, ok
}

// Snapshot returns stats for every breaker, sorted by name.
func (r *BreakerRegistry) Snapshot() []CircuitBreakerStats {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]CircuitBreakerStats, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the breaker registered under key. It reports whether one existed.
func (r *BreakerRegistry) Reset(key string) bool {
	cb, ok := r.Lookup(key)
	if ok {
		cb.Reset()
	}
	return ok
}

// ResetAll closes every registered breaker.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()
	for _, cb := range breakers {
		cb.Reset()
	}
}

func mergeConfig(base, override CircuitBreakerConfig) CircuitBreakerConfig {
	if override.FailureThreshold > 0 {
		base.FailureThreshold = override.FailureThreshold
	}
	if override.ResetTimeout > 0 {
		base.ResetTimeout = override.ResetTimeout
	}
	if override.Clock != nil {
		base.Clock = override.Clock
	}
	if override.IsFailure != nil {
		base.IsFailure = override.IsFailure
	}
	if override.OnStateChange != nil {
		base.OnStateChange = override.OnStateChange
	}
	return base
}

// ForTier returns the breakers created for tier t, sorted by name.
func (r *BreakerRegistry) ForTier(t tier.Name) []*CircuitBreaker {
	r.mu.RLock()
	out := make([]*CircuitBreaker, 0)
	for _, cb := range r.breakers {
		if cb.config.Tier == t {
			out = append(out, cb)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
