// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/kairos-cascade/pkg/approval"
	"github.com/jllopis/kairos-cascade/pkg/config"
	"github.com/jllopis/kairos-cascade/pkg/health"
	"github.com/jllopis/kairos-cascade/pkg/mcp"
	"github.com/jllopis/kairos-cascade/pkg/server"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var mcpStdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, gRPC health and the approval sweeper",
		Long: `serve exposes catalog functions over HTTP, publishes per-tier health
through the gRPC health service and expires overdue approvals. With
--mcp-stdio the catalog is served as MCP tools on stdin/stdout instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			otelCfg := c.settings.Telemetry
			if otelCfg.Environment == "" {
				otelCfg.Environment = c.profile
			}
			shutdownTelemetry, err := telemetry.InitWithConfig(c.cfg.Telemetry.ServiceName, version, otelCfg)
			if err != nil {
				return newConfigError(err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				_ = shutdownTelemetry(sctx)
			}()

			rt, err := buildRuntime(ctx, c.cfg, c.settings, c.logger)
			if err != nil {
				return newConfigError(err)
			}
			defer rt.Close()

			if mcpStdio {
				srv := mcp.NewServer("cascade", version, rt.orchestrator)
				n := srv.RegisterCatalog(rt.catalog)
				c.logger.Info("serve.mcp.start", "tools", n)
				return srv.ServeStdio()
			}
			return c.serve(ctx, rt)
		},
	}
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "serve catalog functions as MCP tools over stdio")
	return cmd
}

func (c *cli) serve(ctx context.Context, rt *runtime) error {
	s := c.settings
	logger := c.logger
	orch := rt.orchestrator

	provider := health.NewProvider(time.Second)
	health.RegisterTiers(provider, orch.Breakers(), orch.Tiers())

	httpLis, err := net.Listen("tcp", c.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", c.cfg.Server.GRPCAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpServer := &http.Server{
		Handler: server.NewHTTPHandler(server.HTTPConfig{
			Orchestrator: orch,
			Health:       provider,
			Approvals:    rt.approvals,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := server.NewHealthServer(provider, logger)

	var expirers []approval.Expirer
	if e, ok := rt.approvals.(approval.Expirer); ok {
		expirers = append(expirers, e)
	}
	sweeper := approval.NewSweeper(s.SweepInterval, expirers,
		approval.WithSweepTimeout(s.SweepTimeout),
		approval.WithSweepLogger(logger),
	)
	sweeper.Start()
	defer sweeper.Stop()

	if c.cfg.Server.WatchConfig && c.configPath != "" {
		watcher, _, err := config.WatchConfig(ctx, c.configPath,
			config.WithWatchProfile(c.profile),
			config.WithWatchLogger(logger),
		)
		if err != nil {
			httpLis.Close()
			grpcLis.Close()
			return newConfigError(err)
		}
		defer watcher.Stop()
		watcher.OnChange(func(cfg *config.Config) { c.applyReload(rt, cfg) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serve.http.start", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("serve.grpc.start", "addr", grpcLis.Addr().String())
		return healthServer.Serve(grpcLis)
	})
	g.Go(func() error {
		healthServer.Watch(gctx, s.HealthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("serve.shutdown")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(sctx)
		healthServer.Stop()
		return err
	})
	return g.Wait()
}

// applyReload pushes reloaded timeouts and tier order into the running orchestrator.
func (c *cli) applyReload(rt *runtime, cfg *config.Config) {
	s, err := cfg.Resolve()
	if err != nil {
		c.logger.Error("config.reload.rejected", "error", err)
		return
	}
	orch := rt.orchestrator
	if err := orch.SetTimeoutPolicy(s.Timeouts); err != nil {
		c.logger.Error("config.reload.rejected", "field", "cascade.timeouts", "error", err)
		return
	}
	order := configuredOrder(s.TierOrder, tierSet(orch.Tiers()), c.logger)
	if err := orch.SetTierOrder(order); err != nil {
		c.logger.Error("config.reload.rejected", "field", "cascade.tier_order", "error", err)
		return
	}
	c.logger.Info("config.reload.cascade", "tier_order", order, "timeouts", len(s.Timeouts.Entries()))
}
