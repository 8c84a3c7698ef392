package cmd

import (
	"fmt"

	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue inspection",
	Long:  "Inspect and purge provider results the pipeline could not process",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := newClient(cmd).ListDeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		if ok, err := output.Structured(outputFormat(cmd), entries); ok {
			return err
		}

		if len(entries) == 0 {
			output.Info("Dead-letter queue is empty")
			return nil
		}

		table := output.NewTable("ID", "Time", "Provider", "Watch", "Reason", "Error")
		for _, e := range entries {
			table.AddRow(
				e.ID,
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Provider,
				e.WatchID,
				e.Reason,
				output.Truncate(e.Error, 60),
			)
		}
		table.Render()
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newClient(cmd).PurgeDeadLetters(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to purge dead letters: %w", err)
		}
		output.Success("Purged %d dead letters", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqPurgeCmd)
	dlqListCmd.Flags().Int("limit", 100, "maximum entries to list")
}
