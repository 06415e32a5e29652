package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saks635/NL2SQL-Convertor/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Issue a signed bearer token for 'nl2sql serve'. Tokens are signed with
auth.jwt_secret, or with a secret generated once and kept in the store.`,
		Example: `  nl2sql token issue --subject ci
  nl2sql token issue --subject alice --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			secret, err := a.store.ResolveSecret(cmd.Context(), a.settings.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("resolve signing secret: %w", err)
			}
			if ttl <= 0 {
				ttl = a.settings.Auth.Expiry()
			}
			token, err := service.NewAuthService(secret).IssueToken(subject, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			if !a.settings.Auth.On() {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: auth is disabled; set auth.enabled to require tokens")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.jwt_expiry)")

	return cmd
}
