// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/config"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

type validateReport struct {
	Valid     bool            `json:"valid"`
	TierOrder []tier.Name     `json:"tierOrder"`
	Timeouts  []timeoutReport `json:"timeouts"`
	Functions int             `json:"functions"`
	Errors    []string        `json:"errors,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

type timeoutReport struct {
	Tier    tier.Name `json:"tier"`
	Timeout string    `json:"timeout"`
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the function catalog",
		Long: `validate resolves the configuration, loads the function catalog and
reports functions that name tiers without a configured backend. It does not
contact any backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := buildValidateReport(c.cfg, c.settings)
			if err := printValidateReport(cmd.OutOrStdout(), report, c.jsonOut); err != nil {
				return err
			}
			if !report.Valid {
				return newConfigError(fmt.Errorf("%d catalog error(s)", len(report.Errors)))
			}
			return nil
		},
	}
}

func buildValidateReport(cfg *config.Config, s *config.Settings) validateReport {
	report := validateReport{Valid: true, TierOrder: s.TierOrder}
	for _, e := range s.Timeouts.Entries() {
		report.Timeouts = append(report.Timeouts, timeoutReport{Tier: e.Tier, Timeout: e.Timeout.String()})
	}

	catalog, err := loadCatalog(s.FunctionsPath)
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Functions = catalog.Len()
	for _, err := range catalog.Validate() {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
	}

	if !cfg.MCP.Enabled() {
		if containsTier(s.TierOrder, tier.Code) {
			report.Warnings = append(report.Warnings, "tier order includes code but no mcp server is configured; code is skipped")
		}
		for _, def := range catalog.List() {
			if containsTier(def.Tiers, tier.Code) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("function %s uses the code tier but no mcp server is configured", def.ID))
			}
		}
	}
	for _, def := range catalog.List() {
		warnUnreachableTimeouts(&report, def)
	}
	return report
}

// warnUnreachableTimeouts flags deadlines set for tiers the function never runs.
func warnUnreachableTimeouts(report *validateReport, def cascade.FunctionDefinition) {
	if len(def.Tiers) == 0 {
		return
	}
	for t := range def.TimeoutOverrides() {
		if !containsTier(def.Tiers, t) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("function %s sets a %s timeout but does not use that tier", def.ID, t))
		}
	}
}

func containsTier(order []tier.Name, t tier.Name) bool {
	for _, n := range order {
		if n == t {
			return true
		}
	}
	return false
}

func printValidateReport(w io.Writer, r validateReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	status := "ok"
	if !r.Valid {
		status = "invalid"
	}
	fmt.Fprintf(w, "configuration %s: %d function(s), tier order %v\n", status, r.Functions, r.TierOrder)
	for _, t := range r.Timeouts {
		fmt.Fprintf(w, "  timeout %-10s %s\n", t.Tier, t.Timeout)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	return nil
}
