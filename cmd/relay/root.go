package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Streaming chat relay for the Vercel AI SDK",
	Long: `Relay sits between a browser chat client and an upstream completions
service. For every chat turn it:
  - Resolves a stable conversation thread id for the session
  - Forwards the latest turn to the upstream with the thread id attached
  - Transcodes the upstream SSE reply into Vercel AI data stream frames
  - Retries upstream connection failures before the first byte

The configuration file is optional when API_URL and API_KEY are set.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
