package cmd

import (
	"fmt"
	"strings"

	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <watch-id>",
	Short: "Run one watch cycle",
	Long: `Fetch, normalize, deduplicate and score new signals for a watch, then
assemble Impact Cards from what was found.

Without --keywords the watch's configured keywords are used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keywords, _ := cmd.Flags().GetStringSlice("keywords")

		report, err := newClient(cmd).ProcessWatch(cmd.Context(), args[0], keywords)
		if err != nil {
			return fmt.Errorf("watch cycle failed: %w", err)
		}

		if ok, err := output.Structured(outputFormat(cmd), report); ok {
			return err
		}

		output.Success("Watch %s processed (run %s)", report.WatchID, report.RunID)
		fmt.Fprintf(output.Out, "  Sources:   %d\n", report.Sources)
		fmt.Fprintf(output.Out, "  Fetched:   %d\n", report.Fetched)
		fmt.Fprintf(output.Out, "  Rejected:  %d\n", report.Rejected)
		fmt.Fprintf(output.Out, "  Repeats:   %d\n", report.Repeats)
		fmt.Fprintf(output.Out, "  Canonical: %d new, %d merged\n", report.Created, report.Merged)
		if len(report.CardIDs) > 0 {
			fmt.Fprintf(output.Out, "  Cards:     %s\n", strings.Join(report.CardIDs, ", "))
		}
		if len(report.FailedSources) > 0 {
			output.Warn("Failed sources: %s", strings.Join(report.FailedSources, ", "))
		}
		if report.Degraded {
			output.Warn("Cycle ran degraded")
		}
		if report.RetryQueued {
			output.Info("A retry has been queued")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringSlice("keywords", nil, "override watch keywords (comma-separated)")
}
