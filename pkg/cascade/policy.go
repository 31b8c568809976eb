// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"fmt"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Default per-tier deadlines.
const (
	DefaultCodeTimeout       = 5 * time.Second
	DefaultGenerativeTimeout = 30 * time.Second
	DefaultAgenticTimeout    = 5 * time.Minute
	DefaultHumanTimeout      = 24 * time.Hour
)

// TimeoutPolicy maps each tier to its execution deadline.
// The zero value behaves like DefaultTimeoutPolicy.
type TimeoutPolicy struct {
	timeouts map[tier.Name]time.Duration
}

// DefaultTimeoutPolicy returns code=5s, generative=30s, agentic=5m, human=24h.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{timeouts: map[tier.Name]time.Duration{
		tier.Code:       DefaultCodeTimeout,
		tier.Generative: DefaultGenerativeTimeout,
		tier.Agentic:    DefaultAgenticTimeout,
		tier.Human:      DefaultHumanTimeout,
	}}
}

// NewTimeoutPolicy returns the default policy with overrides applied.
func NewTimeoutPolicy(overrides map[tier.Name]time.Duration) (TimeoutPolicy, error) {
	for t, d := range overrides {
		if !t.IsExecutable() {
			return TimeoutPolicy{}, fmt.Errorf("timeout for unknown tier %q", t)
		}
		if d <= 0 {
			return TimeoutPolicy{}, fmt.Errorf("timeout for tier %s must be positive, got %s", t, d)
		}
	}
	return DefaultTimeoutPolicy().With(overrides), nil
}

// For returns the deadline for t. Tiers without an entry fall back to the default.
func (p TimeoutPolicy) For(t tier.Name) time.Duration {
	if d, ok := p.timeouts[t]; ok && d > 0 {
		return d
	}
	return defaultTimeout(t)
}

func defaultTimeout(t tier.Name) time.Duration {
	switch t {
	case tier.Code:
		return DefaultCodeTimeout
	case tier.Generative:
		return DefaultGenerativeTimeout
	case tier.Agentic:
		return DefaultAgenticTimeout
	case tier.Human:
		return DefaultHumanTimeout
	}
	return 0
}

// With returns a copy of p with the given overrides. Non-positive values are ignored.
func (p TimeoutPolicy) With(overrides map[tier.Name]time.Duration) TimeoutPolicy {
	merged := make(map[tier.Name]time.Duration, len(tier.EscalationOrder()))
	for _, t := range tier.EscalationOrder() {
		merged[t] = p.For(t)
	}
	for t, d := range overrides {
		if d > 0 {
			merged[t] = d
		}
	}
	return TimeoutPolicy{timeouts: merged}
}

// Validate checks that every tier in order has a positive deadline.
func (p TimeoutPolicy) Validate(order []tier.Name) error {
	for _, t := range order {
		if p.For(t) <= 0 {
			return fmt.Errorf("no timeout configured for tier %s", t)
		}
	}
	return nil
}

// Entry is one tier deadline.
type Entry struct {
	Tier    tier.Name     `json:"tier"`
	Timeout time.Duration `json:"timeout"`
}

// Entries lists the policy in escalation order.
func (p TimeoutPolicy) Entries() []Entry {
	order := tier.EscalationOrder()
	entries := make([]Entry, 0, len(order))
	for _, t := range order {
		entries = append(entries, Entry{Tier: t, Timeout: p.For(t)})
	}
	return entries
}

// RetryableOnTimeout reports whether a deadline expiry on t may be retried.
// A human tier timing out means the request was abandoned.
func RetryableOnTimeout(t tier.Name) bool {
	return t != tier.Human
}
