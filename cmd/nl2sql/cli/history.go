package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recent requests",
		Long:  "List and show the recorded outcome of recent schema, generate, execute and ask requests.",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())

	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		source     string
		stage      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recent requests, newest first",
		Aliases: []string{"ls"},
		Example: `  nl2sql history list
  nl2sql history list --source shop --stage rejected`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.ListHistory(cmd.Context(), config.HistoryFilter{
				Source: source,
				Stage:  stage,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No requests recorded.")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-20s %-12s %-20s %6s  %s\n", "ID", "CREATED", "SOURCE", "STAGE", "ROWS", "QUESTION / SQL")
			for _, r := range records {
				text := r.Question
				if text == "" {
					text = r.Statement
				}
				fmt.Fprintf(out, "%-36s %-20s %-12s %-20s %6d  %s\n",
					r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Source, r.Stage, r.RowCount, formatCell(text))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Only requests against this source")
	cmd.Flags().StringVar(&stage, "stage", "", "Only requests that ended at this stage")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetHistory(cmd.Context(), args[0])
			if errors.Is(err, config.ErrNotFound) {
				return fmt.Errorf("no request with id %q", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}
