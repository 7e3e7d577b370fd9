package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sandbridge/internal/host"
)

var ingestProject string

var ingestCmd = &cobra.Command{
	Use:   "ingest [pattern]",
	Short: "Index local files into the knowledge store",
	Long: `Ingests local files matching a doublestar glob into the project's
knowledge index. Duplicates are detected by content hash and skipped.

Examples:
  sandbridge ingest 'docs/**/*.md'
  sandbridge ingest 'notes/*.txt' --project my-research`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProject, "project", "", "project name (default: derived from working directory)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	pattern := args[0]

	base, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	matches, err := doublestar.Glob(os.DirFS(base), filepath.ToSlash(pattern))
	if err != nil {
		return fmt.Errorf("bad glob pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no files matched %q", pattern)
	}

	h, err := openHost(host.Options{NoKernelContainer: true})
	if err != nil {
		return err
	}
	defer h.Shutdown(cmd.Context()) //nolint:errcheck

	bar := progressbar.NewOptions(len(matches),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var loaded, failed int
	var totalBytes int64
	for _, match := range matches {
		summary, err := h.Fetch().LoadDir(cmd.Context(), ingestProject, match)
		if err != nil || len(summary.Errors) > 0 {
			failed++
		} else {
			loaded += summary.Loaded
			totalBytes += summary.TotalBytes
		}
		bar.Add(1) //nolint:errcheck
	}
	bar.Finish() //nolint:errcheck

	cmd.Printf("Ingested %d files (%d bytes)", loaded, totalBytes)
	if failed > 0 {
		cmd.Printf(", %d failed", failed)
	}
	cmd.Println()
	return nil
}
