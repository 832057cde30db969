package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	omcp "github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for operations agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the decision engine
as read-only tools: evaluate a request, check vehicle access depth, show a user's
effective scope, and inspect or validate approval workflows.

The server speaks JSON-RPC over stdin/stdout, for MCP clients that launch it as a
subprocess. Logs go to stderr.`,
		Example: `  opstower mcp
  OPSTOWER_MCP_ACTOR=dispatch-agent opstower mcp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background())
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.MCP.Enabled {
				return fmt.Errorf("mcp is disabled in configuration (mcp.enabled)")
			}
			if t := a.cfg.MCP.Transport; t != "" && t != "stdio" {
				return fmt.Errorf("unsupported transport %q; only stdio is available", t)
			}
			srv := omcp.NewMCPServer(a.engine, a.approvals, omcp.Options{
				Version: versionString(),
				Actor:   a.cfg.MCP.Actor,
			}, a.logger)
			return srv.ServeStdio()
		},
	}

	return cmd
}
