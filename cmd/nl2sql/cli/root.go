package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	dataDir    string
	devMode    bool
	appVersion string
)

// Execute creates the root command tree and runs it until it finishes or
// the process is interrupted.
func Execute(version, commit, date string) error {
	appVersion = version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(version, commit, date).ExecuteContext(ctx)
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nl2sql",
		Short: "Ask your databases questions in plain language",
		Long: `nl2sql turns natural-language questions into validated, read-only SQL and runs it.

It reads the schema of a saved source (SQLite, DuckDB, MySQL, PostgreSQL,
SQL Server or MongoDB), asks a model provider for one statement, rejects
anything that is not a safe query over known tables, and returns the rows.
The same pipeline is served over HTTP (serve) and to AI agents over MCP (mcp).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nl2sql.yaml or ~/.nl2sql/nl2sql.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.nl2sql)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode: debug logging in text format")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newSourceCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
