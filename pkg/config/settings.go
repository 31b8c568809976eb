// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Settings is the typed view of a Config with every duration and tier name parsed.
type Settings struct {
	TierOrder     []tier.Name
	Timeouts      cascade.TimeoutPolicy
	Breaker       resilience.CircuitBreakerConfig
	BreakerScope  cascade.BreakerScope
	Retry         resilience.RetryConfig
	FunctionsPath string

	PollInterval   time.Duration
	SweepInterval  time.Duration
	SweepTimeout   time.Duration
	HealthInterval time.Duration

	Telemetry telemetry.Config
}

// Resolve validates the configuration and converts it into Settings.
// All problems are reported together.
func (c *Config) Resolve() (*Settings, error) {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	duration := func(field, value string) time.Duration {
		if value == "" {
			return 0
		}
		d, err := cascade.ParseDuration(value)
		if err != nil {
			fail("%s: %v", field, err)
		}
		return d
	}

	s := &Settings{FunctionsPath: c.Cascade.FunctionsPath}

	if len(c.Cascade.TierOrder) > 0 {
		order, err := tier.ParseOrder(c.Cascade.TierOrder)
		if err != nil {
			fail("cascade.tier_order: %v", err)
		}
		s.TierOrder = order
	}

	overrides := make(map[tier.Name]time.Duration, len(c.Cascade.Timeouts))
	for name, value := range c.Cascade.Timeouts {
		t, err := tier.Parse(name)
		if err != nil {
			fail("cascade.timeouts: %v", err)
			continue
		}
		if d := duration("cascade.timeouts."+name, value); d > 0 {
			overrides[t] = d
		}
	}
	policy, err := cascade.NewTimeoutPolicy(overrides)
	if err != nil {
		fail("cascade.timeouts: %v", err)
	}
	s.Timeouts = policy

	if c.Cascade.Breaker.Threshold < 0 {
		fail("cascade.breaker.threshold must not be negative")
	}
	s.Breaker = resilience.CircuitBreakerConfig{
		FailureThreshold: c.Cascade.Breaker.Threshold,
		ResetTimeout:     duration("cascade.breaker.reset_timeout", c.Cascade.Breaker.ResetTimeout),
	}
	scope, err := cascade.ParseBreakerScope(c.Cascade.Breaker.Scope)
	if err != nil {
		fail("cascade.breaker.scope: %v", err)
	}
	s.BreakerScope = scope

	retry := resilience.DefaultRetryConfig()
	if c.Cascade.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = c.Cascade.Retry.MaxAttempts
	}
	if d := duration("cascade.retry.initial_delay", c.Cascade.Retry.InitialDelay); d > 0 {
		retry.InitialDelay = d
	}
	if d := duration("cascade.retry.max_delay", c.Cascade.Retry.MaxDelay); d > 0 {
		retry.MaxDelay = d
	}
	if j := c.Cascade.Retry.Jitter; j < 0 || j > 1 {
		fail("cascade.retry.jitter must be between 0 and 1")
	} else {
		retry.Jitter = j
	}
	s.Retry = retry

	switch c.Approval.Store {
	case "", "memory", "sqlite":
	default:
		fail("approval.store: unknown store %q", c.Approval.Store)
	}
	s.PollInterval = duration("approval.poll_interval", c.Approval.PollInterval)
	s.SweepInterval = duration("approval.sweep_interval", c.Approval.SweepInterval)
	s.SweepTimeout = duration("approval.sweep_timeout", c.Approval.SweepTimeout)
	s.HealthInterval = duration("server.health_interval", c.Server.HealthInterval)

	s.Telemetry = telemetry.Config{
		Exporter:       c.Telemetry.Exporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInsecure:   c.Telemetry.OTLPInsecure,
		OTLPTimeout:    time.Duration(c.Telemetry.OTLPTimeoutSeconds) * time.Second,
		OTLPHeaders:    c.Telemetry.OTLPHeaders,
		Environment:    c.Telemetry.Environment,
		SampleRatio:    c.Telemetry.SampleRatio,
		MetricInterval: duration("telemetry.metric_interval", c.Telemetry.MetricInterval),
	}
	if c.Telemetry.OTLPTimeoutSeconds < 0 {
		fail("telemetry.otlp_timeout_seconds must not be negative")
	}
	if err := s.Telemetry.Validate(); err != nil {
		fail("telemetry: %v", err)
	}

	switch c.LLM.Provider {
	case "", "anthropic", "ollama", "mock":
	default:
		fail("llm.provider: unknown provider %q", c.LLM.Provider)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return s, nil
}
