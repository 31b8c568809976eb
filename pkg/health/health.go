// SPDX-License-Identifier: Apache-2.0

// Package health reports whether each cascade tier can currently take work.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health state of a component.
type Status string

const (
	// Healthy indicates the component is fully operational.
	Healthy Status = "HEALTHY"

	// Degraded indicates the component is operational but with reduced capacity.
	Degraded Status = "DEGRADED"

	// Unhealthy indicates the component is not operational.
	Unhealthy Status = "UNHEALTHY"
)

// Result represents the result of a health check.
type Result struct {
	Status    Status    `json:"status"`
	Component string    `json:"component"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"lastCheck"`
}

// Checker checks the health of a component.
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) Result

// Check calls f(ctx) and stamps LastCheck when unset.
func (f CheckerFunc) Check(ctx context.Context) Result {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// Static returns a checker that always reports status.
func Static(status Status, message string) Checker {
	return CheckerFunc(func(context.Context) Result {
		return Result{Status: status, Message: message}
	})
}

// Provider aggregates checkers and caches their results for a short TTL.
type Provider struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	cache    map[string]Result
	cacheTTL time.Duration
	now      func() time.Time
}

// NewProvider creates a provider. A zero TTL disables caching.
func NewProvider(cacheTTL time.Duration) *Provider {
	return &Provider{
		checkers: make(map[string]Checker),
		cache:    make(map[string]Result),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Register adds or replaces the checker for name.
func (p *Provider) Register(name string, checker Checker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
	delete(p.cache, name)
}

// Names returns registered component names, sorted.
func (p *Provider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.checkers))
	for name := range p.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check checks the health of a specific component.
func (p *Provider) Check(ctx context.Context, name string) (Result, error) {
	p.mu.RLock()
	checker, exists := p.checkers[name]
	cached, hit := p.cache[name]
	p.mu.RUnlock()
	if !exists {
		return Result{}, fmt.Errorf("checker not registered: %s", name)
	}
	if hit && p.cacheTTL > 0 && p.now().Sub(cached.LastCheck) < p.cacheTTL {
		return cached, nil
	}

	result := checker.Check(ctx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = p.now()
	}
	p.mu.Lock()
	p.cache[name] = result
	p.mu.Unlock()
	return result, nil
}

// CheckAll checks every component, sorted by name, and returns the overall
// status: unhealthy if any is unhealthy, otherwise degraded if any is degraded.
func (p *Provider) CheckAll(ctx context.Context) ([]Result, Status) {
	names := p.Names()
	results := make([]Result, 0, len(names))
	overall := Healthy
	for _, name := range names {
		result, err := p.Check(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, result)
		overall = Worst(overall, result.Status)
	}
	return results, overall
}

// Worst returns the more severe of a and b.
func Worst(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

func severity(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}
