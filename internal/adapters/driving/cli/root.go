// Package cli implements the sandbridge command line: the MCP server
// entry point plus offline ingest and status commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sandbridge/internal/host"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagVerbose  bool
	flagStateDir string
)

var rootCmd = &cobra.Command{
	Use:   "sandbridge",
	Short: "MCP bridge to an isolated Python kernel with a knowledge index",
	Long: `sandbridge serves MCP tools backed by a persistent, isolated Python
kernel, a per-project hybrid-search knowledge index, documentation
fetching and bounded sub-agent reasoning loops.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "state directory (default ~/.sandbridge)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a signal-aware context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openHost builds the runtime for commands that need it.
func openHost(opts host.Options) (*host.Host, error) {
	opts.StateDir = flagStateDir
	return host.New(opts)
}
