// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tier defines the execution tiers a cascade escalates through.
package tier

import (
	"fmt"
	"strings"
)

// Name identifies an execution tier.
type Name string

const (
	// Code runs deterministic code.
	Code Name = "code"

	// Generative performs a single model call.
	Generative Name = "generative"

	// Agentic runs an autonomous agent loop.
	Agentic Name = "agentic"

	// Human waits for a human decision.
	Human Name = "human"

	// Cascade attributes a failure to the orchestrator rather than a tier.
	Cascade Name = "cascade"
)

var escalation = []Name{Code, Generative, Agentic, Human}

// EscalationOrder returns the fixed cheapest-to-costliest tier order.
func EscalationOrder() []Name {
	out := make([]Name, len(escalation))
	copy(out, escalation)
	return out
}

// Rank returns the position of the tier in the escalation order, or -1.
func (n Name) Rank() int {
	for i, t := range escalation {
		if t == n {
			return i
		}
	}
	return -1
}

// IsExecutable reports whether the tier can own an executor.
func (n Name) IsExecutable() bool {
	return n.Rank() >= 0
}

func (n Name) String() string {
	return string(n)
}

// Parse converts a string into an executable tier name.
func Parse(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if !n.IsExecutable() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return n, nil
}

// ParseOrder converts a list of strings into a validated tier order.
func ParseOrder(values []string) ([]Name, error) {
	out := make([]Name, 0, len(values))
	for _, v := range values {
		n, err := Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := ValidateOrder(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateOrder checks that every entry is an executable tier and appears once.
// Subsets and reorderings of the escalation order are allowed.
func ValidateOrder(order []Name) error {
	seen := make(map[Name]struct{}, len(order))
	for _, n := range order {
		if !n.IsExecutable() {
			return fmt.Errorf("unknown tier %q", n)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("tier %q listed more than once", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}
