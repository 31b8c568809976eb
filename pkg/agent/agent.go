// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the bounded reasoning loop behind the agentic tier.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/kairos-cascade/pkg/llm"
	"github.com/jllopis/kairos-cascade/pkg/mcp"
)

// Handler executes the agent's core behavior.
type Handler func(ctx context.Context, input any) (any, error)

// DefaultMaxSteps bounds the loop when no step budget is configured.
const DefaultMaxSteps = 8

var (
	ErrMissingHandler = errors.New("agent needs a handler or an llm provider")
	// ErrBudgetExceeded is returned when the loop runs out of steps or tokens.
	ErrBudgetExceeded = errors.New("agent budget exceeded")
)

// Agent runs either a fixed handler or an LLM tool-use loop.
type Agent struct {
	id        string
	role      string
	handler   Handler
	llm       llm.Provider
	model     string
	tools     mcp.ToolCaller
	toolNames []string
	maxSteps  int
	maxTokens int
	logger    *slog.Logger
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a new Agent with a required id and options.
func New(id string, opts ...Option) (*Agent, error) {
	a := &Agent{id: id, maxSteps: DefaultMaxSteps, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.id == "" {
		return nil, errors.New("agent id is required")
	}
	if a.handler == nil && a.llm == nil {
		return nil, ErrMissingHandler
	}
	return a, nil
}

// WithRole sets the agent role, used as the system prompt preamble.
func WithRole(role string) Option {
	return func(a *Agent) error {
		a.role = role
		return nil
	}
}

// WithHandler sets a fixed handler; it takes precedence over the LLM loop.
func WithHandler(handler Handler) Option {
	return func(a *Agent) error {
		a.handler = handler
		return nil
	}
}

// WithModel sets the LLM provider and model used by the loop.
func WithModel(provider llm.Provider, model string) Option {
	return func(a *Agent) error {
		if provider == nil {
			return errors.New("llm provider is nil")
		}
		a.llm = provider
		a.model = model
		return nil
	}
}

// WithTools lets the loop call MCP tools. names lists what the model may call.
func WithTools(caller mcp.ToolCaller, names ...string) Option {
	return func(a *Agent) error {
		a.tools = caller
		a.toolNames = append([]string(nil), names...)
		return nil
	}
}

// WithMaxSteps bounds the number of model calls per run.
func WithMaxSteps(n int) Option {
	return func(a *Agent) error {
		if n <= 0 {
			return fmt.Errorf("max steps must be positive, got %d", n)
		}
		a.maxSteps = n
		return nil
	}
}

// WithMaxTokens bounds total tokens per run. Zero means unbounded.
func WithMaxTokens(n int) Option {
	return func(a *Agent) error {
		if n < 0 {
			return fmt.Errorf("max tokens must not be negative, got %d", n)
		}
		a.maxTokens = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Role returns the agent role.
func (a *Agent) Role() string { return a.role }

// Run executes the agent on input.
func (a *Agent) Run(ctx context.Context, input any) (any, error) {
	if a.handler != nil {
		return a.handler(ctx, input)
	}
	if a.llm == nil {
		return nil, ErrMissingHandler
	}
	return a.runLoop(ctx, input)
}

func (a *Agent) runLoop(ctx context.Context, input any) (any, error) {
	text, err := inputText(input)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt()},
		{Role: llm.RoleUser, Content: text},
	}
	log := a.logger.With(slog.String("agent_id", a.id))

	tokens := 0
	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := a.llm.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
		if err != nil {
			return nil, err
		}
		tokens += resp.Usage.TotalTokens
		if a.maxTokens > 0 && tokens > a.maxTokens {
			return nil, fmt.Errorf("%w: used %d of %d tokens", ErrBudgetExceeded, tokens, a.maxTokens)
		}

		step := parseStep(resp.Content)
		if step.final {
			log.DebugContext(ctx, "agent.run.final", slog.Int("tokens", tokens))
			return step.answer, nil
		}

		observation := a.callTool(ctx, step.action, step.actionInput)
		log.DebugContext(ctx, "agent.run.tool",
			slog.String("tool", step.action),
			slog.Int("tokens", tokens),
		)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: "Observation: " + observation},
		)
	}
	return nil, fmt.Errorf("%w: no final answer after %d steps", ErrBudgetExceeded, a.maxSteps)
}

func (a *Agent) callTool(ctx context.Context, name, input string) string {
	if a.tools == nil {
		return fmt.Sprintf("tool %q is not available", name)
	}
	out, err := mcp.InvokeTool(ctx, a.tools, name, input)
	if err != nil {
		return "error: " + err.Error()
	}
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	if a.role != "" {
		b.WriteString(a.role)
		b.WriteString("\n\n")
	}
	if len(a.toolNames) > 0 && a.tools != nil {
		b.WriteString("You can use these tools: ")
		b.WriteString(strings.Join(a.toolNames, ", "))
		b.WriteString(".\nTo call one, reply with:\nAction: <tool>\nAction Input: <json object>\n")
	}
	b.WriteString("When done, reply with:\nFinal Answer: <answer>")
	return b.String()
}

type loopStep struct {
	final       bool
	answer      string
	action      string
	actionInput string
}

// parseStep reads a model reply. Anything without an Action line is final.
func parseStep(content string) loopStep {
	var step loopStep
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Final Answer:"):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "Final Answer:"))
			if tail := strings.TrimSpace(strings.Join(lines[i+1:], "\n")); tail != "" {
				rest = strings.TrimSpace(rest + "\n" + tail)
			}
			return loopStep{final: true, answer: rest}
		case strings.HasPrefix(trimmed, "Action Input:"):
			step.actionInput = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action Input:"))
		case strings.HasPrefix(trimmed, "Action:"):
			step.action = strings.TrimSpace(strings.TrimPrefix(trimmed, "Action:"))
		}
	}
	if step.action == "" {
		return loopStep{final: true, answer: strings.TrimSpace(content)}
	}
	return step
}

func inputText(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("agent input: %w", err)
		}
		return string(data), nil
	}
}
