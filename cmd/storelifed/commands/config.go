package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnzeLovse/resolwe/internal/cliutil"
	"github.com/AnzeLovse/resolwe/internal/config"
)

var configShowOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved, validated configuration",
	Long: `Load configuration from the --config file (or the built-in defaults
if no file is found), validate it, and print the resolved result.

This is the configuration storelifed would actually run with, after
environment variable overrides (STORELIFE_*) and defaults are applied.`,
	RunE: runConfigShow,
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml|json)")
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch configShowOutput {
	case "json":
		return cliutil.PrintJSON(os.Stdout, cfg)
	case "yaml", "":
		return cliutil.PrintYAML(os.Stdout, cfg)
	default:
		return fmt.Errorf("invalid output format %q (valid: yaml, json)", configShowOutput)
	}
}
