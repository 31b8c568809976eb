// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

type runFlags struct {
	payload     string
	payloadFile string
	tiers       []string
	timeouts    []string
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <function-id>",
		Short: "Run a catalog function through the tier cascade",
		Example: `  cascade run summarize --payload '{"text":"..."}'
  cascade run classify --payload-file ticket.json --tiers code,generative --timeout generative=10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(f, cmd.InOrStdin())
			if err != nil {
				return err
			}
			execOpts, err := f.executeOptions()
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cmd.Context(), c.cfg, c.settings, c.logger)
			if err != nil {
				return newConfigError(err)
			}
			defer rt.Close()

			result, err := rt.orchestrator.ExecuteFunction(cmd.Context(), args[0], payload, execOpts...)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), result, c.jsonOut); err != nil {
				return err
			}
			if !result.Succeeded {
				errs := result.Errors()
				if len(errs) == 0 {
					return runFailedError(nil)
				}
				return runFailedError(errs[len(errs)-1])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.payload, "payload", "", "payload as JSON; plain text is sent as a string")
	cmd.Flags().StringVar(&f.payloadFile, "payload-file", "", "read the payload from a file, - for stdin")
	cmd.Flags().StringSliceVar(&f.tiers, "tiers", nil, "tier order for this run, e.g. code,generative")
	cmd.Flags().StringArrayVar(&f.timeouts, "timeout", nil, "per-tier deadline, tier=duration (repeatable)")
	return cmd
}

func (f runFlags) executeOptions() ([]cascade.ExecuteOption, error) {
	var opts []cascade.ExecuteOption
	if len(f.tiers) > 0 {
		order, err := tier.ParseOrder(f.tiers)
		if err != nil {
			return nil, newUsageError("--tiers: %v", err)
		}
		opts = append(opts, cascade.WithTierOrder(order...))
	}
	if len(f.timeouts) > 0 {
		timeouts, err := parseTimeoutFlags(f.timeouts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cascade.WithTimeouts(timeouts))
	}
	return opts, nil
}

func parseTimeoutFlags(values []string) (map[tier.Name]time.Duration, error) {
	out := make(map[tier.Name]time.Duration, len(values))
	for _, v := range values {
		name, raw, ok := strings.Cut(v, "=")
		if !ok {
			return nil, newUsageError("--timeout %q: expected tier=duration", v)
		}
		t, err := tier.Parse(name)
		if err != nil {
			return nil, newUsageError("--timeout: %v", err)
		}
		d, err := cascade.ParseDuration(raw)
		if err != nil {
			return nil, newUsageError("--timeout %s: %v", name, err)
		}
		out[t] = d
	}
	return out, nil
}

func readPayload(f runFlags, stdin io.Reader) (any, error) {
	if f.payload != "" && f.payloadFile != "" {
		return nil, newUsageError("--payload and --payload-file are mutually exclusive")
	}
	raw := []byte(f.payload)
	switch f.payloadFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		raw = data
	default:
		data, err := os.ReadFile(f.payloadFile)
		if err != nil {
			return nil, newUsageError("read payload file: %v", err)
		}
		raw = data
	}
	return decodePayload(raw), nil
}

// decodePayload parses JSON and falls back to the raw text.
func decodePayload(raw []byte) any {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}

func printResult(w io.Writer, result *cascade.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	outcome := "failed"
	if result.Succeeded {
		outcome = "succeeded via " + string(result.TierUsed)
	}
	fmt.Fprintf(w, "run %s (%s): %s in %s\n", result.RunID, result.FunctionID, outcome, result.TotalDuration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, a := range result.Attempts {
		detail := ""
		if a.Error != nil {
			detail = fmt.Sprintf("%s (%s) %s", a.Error.Code(), a.Error.RetryableString(), a.Error.Message())
		}
		fmt.Fprintf(tw, "  %d.\t%s\t%s\t%s\t%s\n", i+1, a.Tier, a.Outcome, a.Duration.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if result.Succeeded {
		value, err := json.Marshal(result.Value)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintf(w, "result: %s\n", value)
	}
	return nil
}
