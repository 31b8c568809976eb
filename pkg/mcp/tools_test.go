// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

type stubCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func TestInvokeToolMapsStringInput(t *testing.T) {
	caller := &stubCaller{result: textResult("ok")}

	output, err := InvokeTool(context.Background(), caller, "echo", "hello")
	if err != nil {
		t.Fatalf("InvokeTool error: %v", err)
	}
	if output != "ok" {
		t.Fatalf("Expected output 'ok', got %v", output)
	}
	if caller.lastName != "echo" {
		t.Fatalf("Expected tool name 'echo', got %q", caller.lastName)
	}
	if caller.lastArgs["input"] != "hello" {
		t.Fatalf("Expected input arg to be 'hello', got %v", caller.lastArgs["input"])
	}
}

func TestInvokeToolStructuredContent(t *testing.T) {
	caller := &stubCaller{result: &mcp.CallToolResult{
		StructuredContent: map[string]any{"width": 640.0},
		Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: "ignored"}},
	}}
	output, err := InvokeTool(context.Background(), caller, "resize", map[string]any{"image": "a.png"})
	if err != nil {
		t.Fatalf("InvokeTool error: %v", err)
	}
	m, ok := output.(map[string]any)
	if !ok || m["width"] != 640.0 {
		t.Fatalf("expected structured content, got %v", output)
	}
	if caller.lastArgs["image"] != "a.png" {
		t.Errorf("expected object payload to pass through")
	}
}

func TestInvokeToolErrors(t *testing.T) {
	failing := &stubCaller{result: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "bad input"}},
	}}
	_, err := InvokeTool(context.Background(), failing, "resize", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Message != "bad input" {
		t.Fatalf("expected ToolError, got %v", err)
	}

	transport := errors.New("broken pipe")
	_, err = InvokeTool(context.Background(), &stubCaller{err: transport}, "resize", nil)
	if !errors.Is(err, transport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	if _, err := InvokeTool(context.Background(), &stubCaller{}, "", nil); err == nil {
		t.Fatalf("expected error for empty tool name")
	}
	if _, err := InvokeTool(context.Background(), nil, "x", nil); err == nil {
		t.Fatalf("expected error for nil caller")
	}
}

func TestToolArgs(t *testing.T) {
	type request struct {
		Text string `json:"text"`
	}
	tests := []struct {
		name    string
		payload any
		key     string
		want    any
	}{
		{"json string", `{"text":"hi"}`, "text", "hi"},
		{"plain string", "hi", "input", "hi"},
		{"raw json", json.RawMessage(`{"text":"raw"}`), "text", "raw"},
		{"struct", request{Text: "typed"}, "text", "typed"},
		{"number", 42.0, "input", 42.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ToolArgs(tt.payload)
			if err != nil {
				t.Fatalf("ToolArgs error: %v", err)
			}
			if args[tt.key] != tt.want {
				t.Errorf("expected %s=%v, got %v", tt.key, tt.want, args)
			}
		})
	}

	args, err := ToolArgs(nil)
	if err != nil || len(args) != 0 {
		t.Errorf("nil payload should yield empty args")
	}
	if _, err := ToolArgs([]byte("{not json")); err == nil {
		t.Errorf("expected error for invalid JSON bytes")
	}
}
