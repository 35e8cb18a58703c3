package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the relay configuration",
	Long: `Load the configuration file, apply environment overrides and defaults,
and report every invalid field.

Examples:
  # Validate the default config file
  relay validate

  # Validate a specific file
  relay validate --config /etc/relay/relay.yaml`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(w, "✗ Configuration invalid (%d errors)\n", len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(w, "  - %s\n", fe.Error())
			}
		}
		return cli.NewConfigError(cfgFile, err)
	}

	fmt.Fprintln(w, "✓ Configuration valid")
	printSummary(w, cfg)
	return nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	providers := make([]string, 0, len(cfg.Secrets.Providers))
	for _, p := range cfg.Secrets.Providers {
		providers = append(providers, p.Type)
	}

	fmt.Fprintf(w, "  listen:   %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(w, "  upstream: %s (%d attempts)\n", cfg.Upstream.URL, cfg.Upstream.Retry.MaxAttempts)
	fmt.Fprintf(w, "  threads:  %s\n", cfg.Threads.Backend)
	fmt.Fprintf(w, "  secrets:  %s\n", strings.Join(providers, ", "))
	fmt.Fprintf(w, "  events:   %s\n", enabled(cfg.Events.Enabled))
	fmt.Fprintf(w, "  metrics:  %s\n", enabled(cfg.Telemetry.Metrics.Enabled))
	fmt.Fprintf(w, "  tracing:  %s\n", enabled(cfg.Telemetry.Tracing.Enabled))
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
