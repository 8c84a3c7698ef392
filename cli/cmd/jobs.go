package cmd

import (
	"fmt"
	"time"

	"github.com/impactwatch/impactwatch/cli/internal/client"
	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show deep-dive job status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		wait, _ := cmd.Flags().GetBool("wait")

		var (
			job *client.Job
			err error
		)
		if wait {
			every, _ := cmd.Flags().GetDuration("interval")
			job, err = c.WaitJob(cmd.Context(), args[0], every)
		} else {
			job, err = c.GetJob(cmd.Context(), args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return printJob(cmd, job)
	},
}

func printJob(cmd *cobra.Command, job *client.Job) error {
	if ok, err := output.Structured(outputFormat(cmd), job); ok {
		return err
	}

	switch job.Status {
	case "Ready":
		output.Success("Job %s ready: %s", job.JobID, job.ReportRef)
	case "Failed":
		output.Error("Job %s failed: %s", job.JobID, job.Error)
	default:
		output.Info("Job %s is %s (card %s)", job.JobID, job.Status, job.CardID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.Flags().Bool("wait", false, "poll until the job finishes")
	jobCmd.Flags().Duration("interval", 2*time.Second, "poll interval with --wait")
}
