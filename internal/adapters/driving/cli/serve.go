package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sandbridge/internal/host"
)

var (
	serveNoContainer bool
	serveKernelURL   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for AI assistant integration.

By default, the server communicates over stdio using JSON-RPC. Use
--port to serve HTTP instead, which enables testing with the MCP
Inspector web UI and remote access.

The Python kernel starts lazily on the first tool call, preferring a
container and degrading to a bare subprocess when Docker is missing.

Examples:
  # Stdio mode (default, for MCP clients)
  sandbridge serve

  # HTTP mode
  sandbridge serve --port 8080

  # Reuse an already-running kernel
  sandbridge serve --kernel-url http://127.0.0.1:8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	serveCmd.Flags().BoolVar(&serveNoContainer, "no-kernel-container", false, "run the kernel as a bare subprocess")
	serveCmd.Flags().StringVar(&serveKernelURL, "kernel-url", "", "use an externally managed kernel at this URL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	h, err := openHost(host.Options{
		KernelURL:         serveKernelURL,
		NoKernelContainer: serveNoContainer,
	})
	if err != nil {
		return err
	}

	if port > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://localhost:%d\n", port)
	}
	return h.Serve(cmd.Context(), port)
}
