// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/jllopis/kairos-cascade/pkg/agent"
	"github.com/jllopis/kairos-cascade/pkg/approval"
	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/config"
	"github.com/jllopis/kairos-cascade/pkg/executors"
	"github.com/jllopis/kairos-cascade/pkg/llm"
	"github.com/jllopis/kairos-cascade/pkg/llm/anthropic"
	"github.com/jllopis/kairos-cascade/pkg/mcp"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// runtime is the orchestrator and the tier backends built from configuration.
type runtime struct {
	orchestrator *cascade.Orchestrator
	catalog      *cascade.Catalog
	approvals    approval.Store
	tools        *mcp.Client
	closers      []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
	r.closers = nil
}

// buildRuntime wires executors for every configured tier. Tiers whose backend
// is not configured are left out of the default order.
func buildRuntime(ctx context.Context, cfg *config.Config, s *config.Settings, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	catalog, err := loadCatalog(s.FunctionsPath)
	if err != nil {
		return nil, err
	}
	rt.catalog = catalog

	store, err := openApprovalStore(cfg.Approval)
	if err != nil {
		return nil, err
	}
	rt.approvals = store
	if closer, isCloser := store.(interface{ Close() error }); isCloser {
		rt.closers = append(rt.closers, closer.Close)
	}

	if cfg.MCP.Enabled() {
		client, err := openToolClient(cfg.MCP)
		if err != nil {
			return nil, err
		}
		rt.tools = client
		rt.closers = append(rt.closers, client.Close)
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	agentOpts := []agent.Option{
		agent.WithRole(cfg.Agent.Role),
		agent.WithModel(provider, cfg.LLM.Model),
		agent.WithMaxTokens(cfg.Agent.MaxTokens),
		agent.WithLogger(logger),
	}
	if cfg.Agent.MaxSteps > 0 {
		agentOpts = append(agentOpts, agent.WithMaxSteps(cfg.Agent.MaxSteps))
	}
	if rt.tools != nil {
		agentOpts = append(agentOpts, agent.WithTools(rt.tools))
	}
	defaultAgent, err := agent.New("cascade-agent", agentOpts...)
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}

	opts := []cascade.Option{
		cascade.WithCatalog(catalog),
		cascade.WithTimeoutPolicy(s.Timeouts),
		cascade.WithBreakers(resilience.NewBreakerRegistry(s.Breaker)),
		cascade.WithBreakerScope(s.BreakerScope),
		cascade.WithRetry(s.Retry),
		cascade.WithLogger(logger),
		cascade.WithExecutor(tier.Generative, executors.NewGenerativeExecutor(provider, cfg.LLM.Model, executors.WithMaxTokens(cfg.LLM.MaxTokens))),
		cascade.WithExecutor(tier.Agentic, executors.NewAgenticExecutor(defaultAgent)),
		cascade.WithExecutor(tier.Human, executors.NewHumanExecutor(store,
			executors.WithPollInterval(s.PollInterval),
			executors.WithHumanLogger(logger),
		)),
	}
	if rt.tools != nil {
		opts = append(opts, cascade.WithExecutor(tier.Code, executors.NewCodeExecutor(rt.tools)))
	}
	if metrics, err := telemetry.NewCascadeMetrics(ctx); err != nil {
		logger.Warn("cascade.metrics.disabled", "error", err)
	} else {
		opts = append(opts, cascade.WithMetrics(metrics))
	}

	configured := map[tier.Name]bool{tier.Generative: true, tier.Agentic: true, tier.Human: true, tier.Code: rt.tools != nil}
	opts = append(opts, cascade.WithTierOrderDefault(configuredOrder(s.TierOrder, configured, logger)))

	orch, err := cascade.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	rt.orchestrator = orch
	ok = true
	return rt, nil
}

func configuredOrder(order []tier.Name, configured map[tier.Name]bool, logger *slog.Logger) []tier.Name {
	out := make([]tier.Name, 0, len(order))
	for _, t := range order {
		if !configured[t] {
			logger.Warn("cascade.tier.skipped", "tier", t, "reason", "no backend configured")
			continue
		}
		out = append(out, t)
	}
	return out
}

func tierSet(tiers []tier.Name) map[tier.Name]bool {
	out := make(map[tier.Name]bool, len(tiers))
	for _, t := range tiers {
		out[t] = true
	}
	return out
}

func loadCatalog(path string) (*cascade.Catalog, error) {
	if path == "" {
		return cascade.NewCatalog()
	}
	return cascade.LoadCatalog(path)
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithAPIKey(cfg.APIKey),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithMaxTokens(int64(cfg.MaxTokens)),
			anthropic.WithMaxRetries(0),
		), nil
	case "", "ollama":
		return llm.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "mock":
		return llm.NewScriptedMockProvider(cfg.MockResponses...), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func openToolClient(cfg config.MCPConfig) (*mcp.Client, error) {
	switch cfg.Transport {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp.url is required for the http transport")
		}
		return mcp.NewClientWithStreamableHTTP(cfg.URL)
	case "", "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp.command is required for the stdio transport")
		}
		return mcp.NewClientWithStdio(cfg.Command, cfg.Args)
	}
	return nil, fmt.Errorf("unknown mcp transport %q", cfg.Transport)
}

// sqliteApprovals closes the database it owns.
type sqliteApprovals struct {
	*approval.SQLiteStore
	db *sql.DB
}

func (s *sqliteApprovals) Close() error { return s.db.Close() }

func openApprovalStore(cfg config.ApprovalConfig) (approval.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return approval.NewMemoryStore(), nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open approval db: %w", err)
		}
		store, err := approval.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &sqliteApprovals{SQLiteStore: store, db: db}, nil
	}
	return nil, fmt.Errorf("unknown approval store %q", cfg.Store)
}
