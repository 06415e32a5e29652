package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage nl2sql configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default nl2sql.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.WriteDefault(path); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n\n", path)
			fmt.Fprintln(out, "Provider keys are read from the environment (or a .env file):")
			fmt.Fprintln(out, "  GEMINI_API_KEY, COHERE_API_KEY")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "nl2sql.yaml", "Where to write the file")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, nil)
			if err != nil {
				return err
			}
			settings = maskSettings(settings)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// maskSettings hides the signing secret and DSN passwords.
func maskSettings(s config.Settings) config.Settings {
	if s.Auth.JWTSecret != "" {
		s.Auth.JWTSecret = "********"
	}
	sources := make([]config.SourceYAML, len(s.Sources))
	for i, src := range s.Sources {
		src.DSN = connector.MaskDriverDSN(src.Driver, src.DSN)
		sources[i] = src
	}
	s.Sources = sources
	return s
}
