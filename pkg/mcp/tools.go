// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCaller abstracts MCP tool execution. *Client satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolError is returned when the server reports the tool call itself failed.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s failed: %s", e.Tool, e.Message)
}

// InvokeTool calls name with payload converted to tool arguments and returns
// structured content when present, otherwise the joined text content.
func InvokeTool(ctx context.Context, caller ToolCaller, name string, payload any) (any, error) {
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("mcp tool name is required")
	}
	args, err := ToolArgs(payload)
	if err != nil {
		return nil, err
	}
	result, err := caller.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return toolResultToOutput(name, result)
}

// ToolArgs converts a cascade payload into MCP tool arguments.
// Objects pass through, JSON text is decoded and other scalars land under "input".
func ToolArgs(payload any) (map[string]any, error) {
	switch value := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	case bool, float64, float32, int, int64, int32, uint, uint64:
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: unsupported type %T", payload)
		}
		decoded, err := decodeArgs(encoded)
		if err != nil {
			return map[string]any{"input": value}, nil
		}
		return decoded, nil
	}
}

func decodeArgs(data []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

func toolResultToOutput(name string, result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}
	if result.IsError {
		return nil, &ToolError{Tool: name, Message: extractTextContent(result.Content)}
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return nil, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
