// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
)

// FunctionRunner runs catalog functions. *cascade.Orchestrator satisfies it.
type FunctionRunner interface {
	ExecuteFunction(ctx context.Context, id string, payload any, opts ...cascade.ExecuteOption) (*cascade.Result, error)
}

// Server exposes catalog functions as MCP tools; each call runs a full cascade.
type Server struct {
	mcpServer *server.MCPServer
	runner    FunctionRunner
}

// NewServer creates a new MCP server backed by runner.
func NewServer(name, version string, runner FunctionRunner) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version),
		runner:    runner,
	}
}

// RegisterFunction publishes def as a tool named after its id.
func (s *Server) RegisterFunction(def cascade.FunctionDefinition) {
	description := def.Description
	if description == "" {
		description = def.Name
	}
	tool := mcp.NewTool(def.ID, mcp.WithDescription(description))
	id := def.ID

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		var payload any = args
		if input, ok := args["input"]; ok && len(args) == 1 {
			payload = input
		}
		result, err := s.runner.ExecuteFunction(ctx, id, payload)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(encoded)}},
			IsError: !result.Succeeded,
		}, nil
	})
}

// RegisterCatalog publishes every function in c and returns how many were added.
func (s *Server) RegisterCatalog(c *cascade.Catalog) int {
	defs := c.List()
	for _, def := range defs {
		s.RegisterFunction(def)
	}
	return len(defs)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
