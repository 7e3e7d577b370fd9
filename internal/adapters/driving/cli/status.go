package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sandbridge/internal/host"
)

var (
	statusProject string
	statusJSON    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the knowledge index summary",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "project name (default: derived from working directory)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	h, err := openHost(host.Options{NoKernelContainer: true})
	if err != nil {
		return err
	}
	defer h.Shutdown(cmd.Context()) //nolint:errcheck

	report, err := h.Research().Status(cmd.Context(), statusProject)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Documents:  %d\n", report.Index.DocCount)
	cmd.Printf("Chunks:     %d\n", report.Index.ChunkCount)
	cmd.Printf("Index size: %d bytes\n", report.Index.SizeBytes)
	cmd.Printf("Raw docs:   %d\n", report.RawDocsSum)

	if len(report.Index.Labels) > 0 {
		labels := make([]string, 0, len(report.Index.Labels))
		for label := range report.Index.Labels {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		cmd.Println("Labels:")
		for _, label := range labels {
			cmd.Printf("  %-16s %d\n", label, report.Index.Labels[label])
		}
	}
	return nil
}
