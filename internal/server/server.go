// Package server exposes the broker's tool registry to the coding
// agent over the Model Context Protocol on stdio.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/codelens/internal/tool"
)

// Version is stamped by the build.
var Version = "dev"

// Broker is the agent-facing server: an MCP stdio endpoint whose tools
// are the registry's tools, executed through the parallel executor so
// hook bracketing and request-loop marking apply uniformly.
type Broker struct {
	registry *tool.Registry
	executor *tool.Executor
	log      *zap.Logger

	mcp *server.MCPServer
}

// New assembles the broker server over a registry and executor.
func New(registry *tool.Registry, executor *tool.Executor, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}

	b := &Broker{
		registry: registry,
		executor: executor,
		log:      log,
	}

	b.mcp = server.NewMCPServer(
		"codelens",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	for _, t := range registry.All() {
		b.addTool(t)
	}
	return b
}

// addTool registers one broker tool with the MCP server.
func (b *Broker) addTool(t tool.Tool) {
	schema, err := json.Marshal(t.Schema())
	if err != nil {
		b.log.Error("tool schema unmarshalable, skipping",
			zap.String("tool", t.Name()), zap.Error(err))
		return
	}

	mcpTool := mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema)
	name := t.Name()

	b.mcp.AddTool(mcpTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result := b.executor.Execute(ctx, tool.Call{Name: name, Params: params})
		if result.Err != nil {
			// Tool failures are results, not protocol errors: the
			// agent needs the message to retry constructively.
			return mcp.NewToolResultError(result.Err.Error()), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	})
}

// ServeStdio blocks serving the agent protocol on stdin/stdout until
// EOF or context cancellation.
func (b *Broker) ServeStdio(ctx context.Context) error {
	b.log.Info("broker serving on stdio",
		zap.Int("tools", len(b.registry.Names())), zap.String("version", Version))
	return server.ServeStdio(b.mcp, server.WithStdioContextFunc(func(context.Context) context.Context {
		return ctx
	}))
}
