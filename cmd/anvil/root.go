package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profileName string

// buildRootCmd creates the root command with every subcommand attached.
// Separated from main() to keep command construction testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anvil",
		Short: "Anvil - an agent orchestration runtime",
		Long: `Anvil drives an LLM through a tool-execution loop over a line-delimited
JSON protocol, suitable for embedding in scripts, editors, or CI.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "",
		"Profile name (or set ANVIL_PROFILE)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildCapabilitiesCmd(),
		buildModelsCmd(),
		buildProfileCmd(),
	)

	return rootCmd
}
