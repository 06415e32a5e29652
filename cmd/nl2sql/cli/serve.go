package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saks635/NL2SQL-Convertor/internal/server"
	"github.com/saks635/NL2SQL-Convertor/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP server that exposes the pipeline: schema, generate, execute and
ask, plus source management, request history and the OpenAPI document.

Authentication is enabled when auth.enabled is true or auth.jwt_secret is set;
issue tokens with 'nl2sql token issue'.`,
		Example: `  nl2sql serve
  nl2sql serve --host 0.0.0.0 --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP listen host")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp(cmd, map[string]string{
		"port": "server.port",
		"host": "server.host",
	})
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx := cmd.Context()
	srvCfg, err := server.FromSettings(a.settings, versionString())
	if err != nil {
		return err
	}

	var authSvc *service.AuthService
	if a.settings.Auth.On() {
		secret, err := a.store.ResolveSecret(ctx, a.settings.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("resolve signing secret: %w", err)
		}
		authSvc = service.NewAuthService(secret)
	}

	srv := server.New(srvCfg, a.pipeline, a.store, authSvc, a.logger)

	out := cmd.ErrOrStderr()
	base := fmt.Sprintf("http://%s:%d", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ nl2sql %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on %s\n", base)
	fmt.Fprintf(out, "→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Fprintf(out, "→ Health:     %s/healthz\n", base)
	fmt.Fprintf(out, "→ Provider:   %s\n", a.settings.Provider)
	if authSvc != nil {
		fmt.Fprintln(out, "→ Auth:       bearer token required (nl2sql token issue)")
	}
	fmt.Fprintln(out)

	// Serve closes the registry on shutdown.
	return srv.ListenAndServe(ctx)
}
