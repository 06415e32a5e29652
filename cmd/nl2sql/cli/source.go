package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/handler"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "source",
		Aliases: []string{"sources", "db"},
		Short:   "Manage saved database sources",
		Long:    "Add, list, remove and test the database sources questions are asked against.",
	}

	cmd.AddCommand(newSourceAddCmd())
	cmd.AddCommand(newSourceListCmd())
	cmd.AddCommand(newSourceRemoveCmd())
	cmd.AddCommand(newSourceTestCmd())

	return cmd
}

// ---------- source add ----------

func newSourceAddCmd() *cobra.Command {
	var (
		src            model.Source
		passwordPrompt bool
		skipTest       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a database source",
		Long: `Save a database source. File databases (sqlite, duckdb) take --path; servers
take --dsn or --host with the other connection flags. With --user and no DSN
the password is prompted for without echo.

Supported drivers: sqlite, duckdb, mysql, postgres, mssql, snowflake, mongo`,
		Example: `  nl2sql source add --name shop --driver sqlite --path ./shop.db
  nl2sql source add --name crm --driver postgres --host db.internal --user app --database crm
  nl2sql source add --name events --driver mongo --dsn "mongodb://localhost:27017/events"
  nl2sql source add --name wh --driver snowflake --dsn "app@acme-xy12345/SHOP/PUBLIC?warehouse=WH&private_key_path=/keys/app.p8"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if src.Label == "" {
				src.Label = src.Name
			}
			if passwordPrompt || (src.User != "" && src.DSN == "" && !connector.IsFileDriver(src.Driver)) {
				pw, err := readPassword(fmt.Sprintf("Password for %s: ", src.User))
				if err != nil {
					return err
				}
				src.Password = pw
			}
			src.Pool = model.DefaultPoolConfig()

			if err := handler.ValidateSource(&src, a.registry.Drivers()); err != nil {
				return err
			}
			src.DSN = connector.SanitizeDSN(src.Driver, src.DSN)

			ctx := cmd.Context()
			if !skipTest {
				if err := handler.CheckConnection(ctx, a.registry, connector.SpecFromSource(src)); err != nil {
					return fmt.Errorf("connection test failed (use --skip-test to save anyway): %w", err)
				}
			}

			if err := a.store.CreateSource(ctx, &src); err != nil {
				if errors.Is(err, config.ErrConflict) {
					return fmt.Errorf("source %q already exists", src.Name)
				}
				return fmt.Errorf("save source: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added source %q (driver=%s)\n", src.Name, src.Driver)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&src.Name, "name", "", "Source name (unique identifier)")
	f.StringVar(&src.Driver, "driver", "", "Database driver (sqlite, duckdb, mysql, postgres, mssql, snowflake, mongo)")
	f.StringVar(&src.Label, "label", "", "Human-readable label (defaults to name)")
	f.StringVar(&src.DSN, "dsn", "", "Connection string")
	f.StringVar(&src.Path, "path", "", "Database file (sqlite, duckdb)")
	f.StringVar(&src.Host, "host", "", "Server host")
	f.IntVar(&src.Port, "port", 0, "Server port (default depends on driver)")
	f.StringVar(&src.User, "user", "", "User name")
	f.StringVar(&src.Database, "database", "", "Database name")
	f.StringVar(&src.Schema, "schema", "", "Schema to introspect (default depends on driver)")
	f.BoolVar(&src.AllowMutations, "allow-mutations", false, "Accept INSERT, UPDATE, DELETE and DDL on this source")
	f.BoolVar(&passwordPrompt, "password", false, "Prompt for a password")
	f.BoolVar(&skipTest, "skip-test", false, "Save without testing the connection")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("driver")

	return cmd
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a password is required but stdin is not a terminal; use --dsn instead")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// ---------- source list ----------

func newSourceListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List saved sources",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.store.ListSources(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				public := make([]model.Source, len(sources))
				for i, s := range sources {
					public[i] = connector.Public(s)
				}
				return printJSON(out, public)
			}

			if len(sources) == 0 {
				fmt.Fprintln(out, "No sources saved. Use 'nl2sql source add' to add one.")
				return nil
			}

			fmt.Fprintf(out, "%-20s %-10s %-9s %s\n", "NAME", "DRIVER", "MUTATIONS", "TARGET")
			fmt.Fprintf(out, "%-20s %-10s %-9s %s\n", "----", "------", "---------", "------")
			for _, s := range sources {
				mut := "no"
				if s.AllowMutations {
					mut = "yes"
				}
				fmt.Fprintf(out, "%-20s %-10s %-9s %s\n", s.Name, s.Driver, mut, describeTarget(s))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// describeTarget summarizes where a source points, without credentials.
func describeTarget(s model.Source) string {
	switch {
	case s.Path != "":
		return s.Path
	case s.DSN != "":
		return connector.MaskDriverDSN(s.Driver, s.DSN)
	case s.Port > 0:
		return fmt.Sprintf("%s:%d/%s", s.Host, s.Port, s.Database)
	default:
		return fmt.Sprintf("%s/%s", s.Host, s.Database)
	}
}

// ---------- source remove ----------

func newSourceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a saved source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteSource(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, config.ErrNotFound) {
					return fmt.Errorf("source %q not found", args[0])
				}
				return fmt.Errorf("delete source: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed source %q\n", args[0])
			return nil
		},
	}
}

// ---------- source test ----------

func newSourceTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Test a saved source's connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			src, err := a.target(ctx, args[0], "")
			if err != nil {
				return err
			}

			start := time.Now()
			if err := handler.CheckConnection(ctx, a.registry, connector.SpecFromSource(src)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection to %q OK (%dms)\n", src.Name, time.Since(start).Milliseconds())
			return nil
		},
	}
}
