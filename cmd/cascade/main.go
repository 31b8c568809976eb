// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the cascade CLI.
package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-cascade/pkg/config"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
)

// cli holds global flags and the state loaded before every command.
type cli struct {
	configPath string
	profile    string
	sets       []string
	envFile    string
	jsonOut    bool

	cfg      *config.Config
	settings *config.Settings
	logger   *slog.Logger
	logFile  *os.File
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		cliErr := asCLIError(err)
		cliErr.Print(os.Stderr, c.jsonOut)
		stop()
		os.Exit(cliErr.ExitCode())
	}
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:   "cascade",
		Short: "Tier cascade orchestrator",
		Long: `cascade runs a function through an ordered list of execution tiers
(code, generative, agentic, human) and returns the first successful result.
Each tier is guarded by a deadline and a circuit breaker.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (YAML)")
	flags.StringVar(&c.profile, "profile", "", "profile overlay, loads <config>.<profile>.yaml")
	flags.StringArrayVar(&c.sets, "set", nil, "override a config key, key=value (repeatable)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.BoolVar(&c.jsonOut, "json", false, "print output and errors as JSON")

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newStatusCmd(c),
		newServeCmd(c),
		newApprovalsCmd(c),
		newVersionCmd(c),
	)
	return root, c
}

// load reads the dotenv file, the configuration and sets up logging.
func (c *cli) load(logOut io.Writer) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
			return newConfigError(fmt.Errorf("load %s: %w", c.envFile, err))
		}
	}

	args := make([]string, 0, 4+2*len(c.sets))
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	for _, s := range c.sets {
		args = append(args, "--set", s)
	}

	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		return newConfigError(err)
	}
	settings, err := cfg.Resolve()
	if err != nil {
		return newConfigError(err)
	}
	c.cfg = cfg
	c.settings = settings

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return newConfigError(fmt.Errorf("open log file: %w", err))
		}
		c.logFile = f
		c.logger = telemetry.ConfigureSlogWithFile(logOut, f, cfg.Log.Level, cfg.Log.Format)
	} else {
		c.logger = telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)
	}
	return nil
}

func (c *cli) close() {
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}
