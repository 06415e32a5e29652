package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// ---------- schema ----------

func newSchemaCmd() *cobra.Command {
	var (
		file       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "schema [source]",
		Short: "Show the schema the model sees for a source",
		Args:  cobra.MaximumNArgs(1),
		Example: `  nl2sql schema shop
  nl2sql schema --file ./local.db --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			src, err := a.target(ctx, firstArg(args), file)
			if err != nil {
				return err
			}
			schema, err := a.pipeline.GetSchema(ctx, connector.SpecFromSource(src))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"source": src.Name,
					"driver": schema.Driver,
					"tables": schema.Tables,
				})
			}
			renderSchema(cmd.OutOrStdout(), schema)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "SQLite or DuckDB file to inspect instead of a saved source")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- analyze ----------

func newAnalyzeCmd() *cobra.Command {
	var (
		file       string
		rowCounts  bool
		sampleRows int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [source]",
		Short: "Check a source's schema for normal-form problems",
		Args:  cobra.MaximumNArgs(1),
		Example: `  nl2sql analyze shop
  nl2sql analyze shop --counts --sample 3
  nl2sql analyze --file ./local.db --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			src, err := a.target(ctx, firstArg(args), file)
			if err != nil {
				return err
			}
			report, err := a.pipeline.AnalyzeSchema(ctx, connector.SpecFromSource(src), pipeline.AnalyzeOptions{
				RowCounts:  rowCounts,
				SampleRows: sampleRows,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "SQLite or DuckDB file to inspect instead of a saved source")
	cmd.Flags().BoolVar(&rowCounts, "counts", false, "Count the rows of every table")
	cmd.Flags().IntVar(&sampleRows, "sample", 0, "Sample rows to show per table")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- ask ----------

func newAskCmd() *cobra.Command {
	var (
		file       string
		provider   string
		noExec     bool
		rowLimit   int
		timeout    time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "ask <source> <question...>",
		Short: "Answer a question against a source",
		Long: `Generate one SQL statement for the question, validate it against the source's
schema and run it. With --no-exec the validated SQL is printed without running.`,
		Example: `  nl2sql ask shop "How many customers live in Paris?"
  nl2sql ask --file ./local.db "top 5 products by revenue" --no-exec
  nl2sql ask shop "orders per month" --provider cohere --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, map[string]string{"provider": "provider"})
			if err != nil {
				return err
			}
			defer a.Close()

			name := ""
			if file == "" {
				if len(args) < 2 {
					return fmt.Errorf("usage: nl2sql ask <source> <question...>")
				}
				name, args = args[0], args[1:]
			}
			question := strings.Join(args, " ")

			ctx := cmd.Context()
			src, err := a.target(ctx, name, file)
			if err != nil {
				return err
			}

			ctx = pipeline.WithRequestID(ctx, pipeline.RequestID(ctx))
			rec := &model.HistoryRecord{
				ID:       pipeline.RequestID(ctx),
				Source:   src.Name,
				Driver:   src.Driver,
				Question: question,
				Provider: a.settings.Provider,
			}
			start := time.Now()

			stop := startSpinner(jsonOutput, "Thinking…")
			answer, err := a.pipeline.AskWith(ctx, connector.SpecFromSource(src), question, pipeline.AskOptions{
				Execute:  !noExec,
				RowLimit: rowLimit,
				Timeout:  timeout,
			})
			stop()

			if gen := answer.Generation; gen != nil {
				rec.Provider = gen.Provider
				rec.Statement = gen.Candidate.Text
				if gen.Statement != nil {
					rec.Statement = gen.Statement.Text
				}
			}
			if answer.Result != nil {
				rec.RowCount = answer.Result.RowCount
				rec.Truncated = answer.Result.Truncated
			}
			a.record(ctx, rec, err, start)

			if err != nil {
				if gen := answer.Generation; gen != nil && gen.Statement == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "rejected SQL:\n  %s\n", gen.Candidate.Text)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, answer)
			}
			fmt.Fprintf(out, "%s\n\n", answer.Generation.Statement.Text)
			if answer.Result != nil {
				renderResult(out, answer.Result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "SQLite or DuckDB file to query instead of a saved source")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider: gemini or cohere")
	cmd.Flags().BoolVar(&noExec, "no-exec", false, "Generate and validate only")
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "Maximum rows to return (default from settings)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout (default from settings)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// startSpinner shows a spinner on stderr when it is a terminal and returns
// the function that clears it.
func startSpinner(quiet bool, suffix string) func() {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

// ---------- exec ----------

func newExecCmd() *cobra.Command {
	var (
		file       string
		rowLimit   int
		timeout    time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "exec <source> <sql>",
		Short: "Validate and run a SQL statement against a source",
		Long: `Run one statement through the same validator the model's output goes through.
Only read-only statements on known tables run unless the source allows mutations.`,
		Example: `  nl2sql exec shop "SELECT city, COUNT(*) FROM customers GROUP BY city"
  nl2sql exec --file ./local.db "SELECT * FROM t" --row-limit 10`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			name, text := "", args[len(args)-1]
			if file == "" {
				if len(args) != 2 {
					return fmt.Errorf("usage: nl2sql exec <source> <sql>")
				}
				name = args[0]
			}

			ctx := cmd.Context()
			src, err := a.target(ctx, name, file)
			if err != nil {
				return err
			}

			ctx = pipeline.WithRequestID(ctx, pipeline.RequestID(ctx))
			rec := &model.HistoryRecord{
				ID:        pipeline.RequestID(ctx),
				Source:    src.Name,
				Driver:    src.Driver,
				Statement: text,
			}
			start := time.Now()
			result, err := a.pipeline.ExecuteStatement(ctx, connector.SpecFromSource(src), text, rowLimit, timeout)
			if result != nil {
				rec.RowCount = result.RowCount
				rec.Truncated = result.Truncated
			}
			a.record(ctx, rec, err, start)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			renderResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "SQLite or DuckDB file to query instead of a saved source")
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "Maximum rows to return (default from settings)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout (default from settings)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
