package cmd

import (
	"fmt"
	"os"

	"github.com/impactwatch/impactwatch/cli/internal/client"
	"github.com/impactwatch/impactwatch/common/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.CLIConfig
)

var rootCmd = &cobra.Command{
	Use:   "iwctl",
	Short: "ImpactWatch CLI",
	Long: `iwctl is the command-line interface for the ImpactWatch pipeline.

Run watch cycles, triage Impact Cards, request deep dives and inspect
the dead-letter queue from your terminal.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.iwctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.LoadCLI(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

func newClient(cmd *cobra.Command) *client.PipelineClient {
	profile, _ := cmd.Flags().GetString("profile")
	return client.NewPipelineClient(cfg.PipelineURL(profile))
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
