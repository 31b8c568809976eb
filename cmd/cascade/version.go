// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		// version must work without a valid configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOut {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "{\"version\":%q}\n", version)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cascade version %s\n", version)
			return err
		},
	}
}
