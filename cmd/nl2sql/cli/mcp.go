package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	nmcp "github.com/saks635/NL2SQL-Convertor/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the pipeline as tools
for AI agents: list sources, read a schema, generate SQL and run validated SQL.

In stdio mode the server speaks JSON-RPC over stdin/stdout, suitable for
desktop MCP clients. In http mode it serves Streamable HTTP on --port.`,
		Example: `  nl2sql mcp                                # stdio mode
  nl2sql mcp --transport http --port 8090     # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 8090, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(cmd *cobra.Command) error {
	a, err := newApp(cmd, map[string]string{
		"transport": "mcp.transport",
		"port":      "mcp.port",
	})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := nmcp.NewMCPServer(a.pipeline, a.store, nmcp.Options{
		Version:       versionString(),
		RecordHistory: a.settings.History.Enabled,
		HistoryKeep:   a.settings.History.MaxEntries,
	}, a.logger)

	switch a.settings.MCP.Transport {
	case "stdio":
		return srv.ServeStdio()
	case "http":
		addr := fmt.Sprintf("%s:%d", a.settings.Server.Host, a.settings.MCP.Port)
		return srv.ServeHTTP(cmd.Context(), addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", a.settings.MCP.Transport)
	}
}
