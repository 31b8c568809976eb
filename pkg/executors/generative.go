// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/llm"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// GenerativeExecutor runs the generative tier with a single model call.
type GenerativeExecutor struct {
	provider    llm.Provider
	model       string
	maxTokens   int
	temperature float64
}

// GenerativeOption configures a GenerativeExecutor.
type GenerativeOption func(*GenerativeExecutor)

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) GenerativeOption {
	return func(e *GenerativeExecutor) { e.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerativeOption {
	return func(e *GenerativeExecutor) { e.temperature = t }
}

// NewGenerativeExecutor creates a generative tier executor.
func NewGenerativeExecutor(provider llm.Provider, model string, opts ...GenerativeOption) *GenerativeExecutor {
	e := &GenerativeExecutor{provider: provider, model: model}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements cascade.Executor. The function's Prompt is the system
// message and the payload is the user message.
func (e *GenerativeExecutor) Execute(ctx context.Context, req cascade.Request) (any, error) {
	if e == nil || e.provider == nil {
		return nil, notConfigured(tier.Generative, "llm provider")
	}
	input, err := payloadText(req.Payload)
	if err != nil {
		return nil, errors.New(tier.Generative, errors.CodeValidationFailed, false, err.Error(), err)
	}
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(req.Function)},
			{Role: llm.RoleUser, Content: input},
		},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		return nil, classify(tier.Generative, err)
	}
	return resp.Content, nil
}

func systemPrompt(def cascade.FunctionDefinition) string {
	if def.Prompt != "" {
		return def.Prompt
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}
	if def.Description != "" {
		return fmt.Sprintf("Perform the function %q: %s", name, def.Description)
	}
	return fmt.Sprintf("Perform the function %q on the input.", name)
}

func payloadText(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		return string(data), nil
	}
}
