// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// FunctionDefinition describes a logical function that can run on several tiers.
type FunctionDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Target scopes circuit breakers when breakers are per tier+target.
	// Defaults to ID.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Tiers overrides the orchestrator's default escalation order.
	Tiers []tier.Name `json:"tiers,omitempty" yaml:"tiers,omitempty"`

	// Timeouts overrides the timeout policy per tier.
	Timeouts map[tier.Name]Duration `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`

	// Required lists payload fields that must be present.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`

	// Tool is the MCP tool invoked by the code tier.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`

	// Prompt is the instruction used by the generative and agentic tiers.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Approvers is a hint for the human tier.
	Approvers []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`
}

// BreakerTarget returns the target used to key per-target breakers.
func (d FunctionDefinition) BreakerTarget() string {
	if d.Target != "" {
		return d.Target
	}
	return d.ID
}

// TimeoutOverrides returns Timeouts as plain durations.
func (d FunctionDefinition) TimeoutOverrides() map[tier.Name]time.Duration {
	if len(d.Timeouts) == 0 {
		return nil
	}
	out := make(map[tier.Name]time.Duration, len(d.Timeouts))
	for t, v := range d.Timeouts {
		out[t] = v.Std()
	}
	return out
}

// Validate checks the definition is usable.
func (d FunctionDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("function id is required")
	}
	if len(d.Tiers) > 0 {
		if err := tier.ValidateOrder(d.Tiers); err != nil {
			return fmt.Errorf("function %s: %w", d.ID, err)
		}
	}
	for t, v := range d.Timeouts {
		if !t.IsExecutable() {
			return fmt.Errorf("function %s: timeout for unknown tier %q", d.ID, t)
		}
		if v <= 0 {
			return fmt.Errorf("function %s: timeout for tier %s must be positive", d.ID, t)
		}
	}
	for _, field := range d.Required {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("function %s: empty required field name", d.ID)
		}
	}
	return nil
}
