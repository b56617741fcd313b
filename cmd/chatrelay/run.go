package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/chatrelay/pkg/cli"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/server"
	"mercator-hq/chatrelay/pkg/telemetry"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the chat relay server",
	Long: `Start the chat relay server with the specified configuration.

The server listens on the configured address, issues sessions to the
allow-listed origins and relays chat messages to the upstream webhook.
The configuration file is watched; origin and rate limit changes apply
without a restart.

Examples:
  # Start with default config
  chatrelay run

  # Start with custom config
  chatrelay run --config /etc/chatrelay/config.yaml

  # Override listen address
  chatrelay run --listen 0.0.0.0:8080

  # Validate config without starting server
  chatrelay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

// loadRunConfig installs the live configuration. Flag values are passed as
// overrides so they also apply to every hot reload of the file.
func loadRunConfig() (*config.Config, error) {
	var overrides []config.Override
	if addr := runFlags.listenAddress; addr != "" {
		overrides = append(overrides, func(c *config.Config) { c.Server.ListenAddress = addr })
	}
	if level := runFlags.logLevel; level != "" {
		overrides = append(overrides, func(c *config.Config) { c.Telemetry.Logging.Level = level })
	}

	cfg, err := config.Load(cfgFile, overrides...)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	printBanner(out, cfg)

	srv, err := server.New(ctx, cfg, tel,
		server.WithConfigPath(cfgFile),
		server.WithVersion(Version, GitCommit, BuildDate),
	)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintf(out, "✓ Starting on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		slog.Error("server stopped with error", "error", err)
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Chatrelay v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(w, "✓ Configuration loaded")

	slog.Debug("relay configuration",
		"upstream", cfg.Upstream.Name,
		"store", cfg.Session.Store.Backend,
		"allowed_origins", len(cfg.Session.AllowedOrigins),
		"tls_enabled", cfg.Security.TLS.Enabled,
	)
}
