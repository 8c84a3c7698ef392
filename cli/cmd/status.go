package cmd

import (
	"fmt"

	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check pipeline health",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := newClient(cmd).Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("pipeline unhealthy: %w", err)
		}

		if ok, err := output.Structured(outputFormat(cmd), health); ok {
			return err
		}

		status, _ := health["status"].(string)
		if status == "ok" {
			output.Success("Pipeline is healthy")
		} else {
			output.Warn("Pipeline status: %s", status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
