package cmd

import (
	"fmt"
	"sort"

	"github.com/impactwatch/impactwatch/cli/pkg/output"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage pipeline endpoint profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		if err := cfg.SaveProfile(args[0], url); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile %s now points at %s", args[0], url)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Profiles) == 0 {
			output.Info("No profiles; using %s", cfg.Defaults.PipelineURL)
			return nil
		}

		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		table := output.NewTable("", "Name", "Pipeline URL")
		for _, name := range names {
			marker := ""
			if name == cfg.CurrentProfile {
				marker = "*"
			}
			table.AddRow(marker, name, cfg.Profiles[name].PipelineURL)
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileListCmd)
	profileSetCmd.Flags().String("url", "", "pipeline base URL")
	_ = profileSetCmd.MarkFlagRequired("url")
}
