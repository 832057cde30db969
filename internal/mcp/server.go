package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/policy"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

// MCPServer wraps the mcp-go server with the decision engine's tools and
// resources, so agents can ask access questions before touching data.
type MCPServer struct {
	engine    *policy.Engine
	approvals *workflow.Manager
	logger    *slog.Logger
	server    *server.MCPServer
}

// Options configures an MCPServer.
type Options struct {
	Version string
	// Actor is recorded on audit events raised by tool calls.
	Actor string
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered. approvals may be nil, in which case the approval listing
// tool is not offered.
func NewMCPServer(engine *policy.Engine, approvals *workflow.Manager, opts Options, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		engine:    engine,
		approvals: approvals,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"Ops Tower Access Control",
		opts.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithToolHandlerMiddleware(withActor(opts.Actor)),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch the
// engine as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// withActor tags every tool call's context with actor for the audit trail.
func withActor(actor string) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if actor != "" {
				ctx = audit.WithActor(ctx, actor)
			}
			return next(ctx, request)
		}
	}
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
