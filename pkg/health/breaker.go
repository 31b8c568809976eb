// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// BreakerChecker derives a tier's health from its circuit breakers.
// Closed is healthy. Half-open, or open with the reset window elapsed, is
// degraded. Open inside the reset window is unhealthy. A tier with several
// per-target breakers reports the worst of them.
type BreakerChecker struct {
	registry *resilience.BreakerRegistry
	tier     tier.Name
}

// NewBreakerChecker creates a checker for tier t.
func NewBreakerChecker(registry *resilience.BreakerRegistry, t tier.Name) *BreakerChecker {
	return &BreakerChecker{registry: registry, tier: t}
}

// Check implements Checker.
func (c *BreakerChecker) Check(context.Context) Result {
	if c.registry == nil {
		return Result{Status: Healthy, Message: "no breakers"}
	}
	breakers := c.registry.ForTier(c.tier)
	if len(breakers) == 0 {
		return Result{Status: Healthy, Message: "no calls yet"}
	}
	status := Healthy
	var notes []string
	for _, cb := range breakers {
		s := BreakerStatus(cb)
		if s != Healthy {
			notes = append(notes, fmt.Sprintf("%s %s", cb.Name(), cb.State()))
		}
		status = Worst(status, s)
	}
	msg := fmt.Sprintf("%d breakers closed", len(breakers))
	if len(notes) > 0 {
		msg = strings.Join(notes, ", ")
	}
	return Result{Status: status, Message: msg}
}

// BreakerStatus maps a single breaker onto a health status.
func BreakerStatus(cb *resilience.CircuitBreaker) Status {
	switch cb.State() {
	case resilience.StateClosed:
		return Healthy
	case resilience.StateHalfOpen:
		return Degraded
	default:
		if cb.IsAllowingRequests() {
			return Degraded
		}
		return Unhealthy
	}
}

// RegisterTiers registers a BreakerChecker for each tier on p.
func RegisterTiers(p *Provider, registry *resilience.BreakerRegistry, tiers []tier.Name) {
	for _, t := range tiers {
		p.Register(string(t), NewBreakerChecker(registry, t))
	}
}
