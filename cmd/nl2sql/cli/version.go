package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saks635/NL2SQL-Convertor/internal/llm"
)

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			drivers := newRegistry().Drivers()
			out := cmd.OutOrStdout()

			if jsonOutput {
				return printJSON(out, map[string]any{
					"version":    version,
					"commit":     commit,
					"built":      date,
					"go_version": runtime.Version(),
					"platform":   runtime.GOOS + "/" + runtime.GOARCH,
					"drivers":    drivers,
					"providers":  llm.Names(),
				})
			}

			fmt.Fprintf(out, "nl2sql %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
			fmt.Fprintf(out, "  go:        %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  drivers:   %s\n", strings.Join(drivers, ", "))
			fmt.Fprintf(out, "  providers: %s\n", strings.Join(llm.Names(), ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
