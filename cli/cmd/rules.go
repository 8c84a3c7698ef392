package cmd

import (
	"fmt"
	"os"

	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Action rule table management",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rule table against the running pipeline",
	Long: `Send a rule table YAML file to the pipeline for validation without
loading it. Exits non-zero when the table is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read rule table: %w", err)
		}

		result, err := newClient(cmd).ValidateRules(cmd.Context(), data)
		if err != nil {
			return fmt.Errorf("failed to validate rules: %w", err)
		}

		if ok, err := output.Structured(outputFormat(cmd), result); ok {
			if err != nil {
				return err
			}
		} else if result.Valid {
			version := result.Version
			if version == "" {
				version = "unversioned"
			}
			output.Success("%s is valid: %d rules (%s)", args[0], result.Rules, version)
		} else {
			output.Error("%s is invalid", args[0])
			for _, e := range result.Errors {
				fmt.Fprintf(output.ErrOut, "  - %s\n", e)
			}
		}

		if !result.Valid {
			return fmt.Errorf("rule table has %d errors", len(result.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
}
