// Package commands implements the storelifed CLI command tree, grounded on
// dittofs's cmd/dittofs/commands: a persistent --config flag, SilenceUsage/
// SilenceErrors on the root command, and build-time version variables
// injected via ldflags.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "storelifed",
	Short: "Storage lifecycle daemon",
	Long: `storelifed sweeps a catalog of replicated files, copying
under-replicated files to backends that should hold them and deleting
replicas that have outlived their retention policy.

Use "storelifed [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/storelife/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// Exit prints an error to stderr and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
