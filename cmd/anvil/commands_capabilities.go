package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/internal/tools"
)

// buildCapabilitiesCmd creates the "capabilities" command: it prints the
// manifest the same capability.Host built in commands_run.go's
// buildRegistry would publish, for diagnostics.
func buildCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capability modules and their tool suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			host := capability.New()
			if err := host.RegisterModule(tools.Module{}); err != nil {
				return err
			}

			workingDir, _ := os.Getwd()
			if _, err := host.Build(capability.ModuleContext{WorkingDir: workingDir}); err != nil {
				return err
			}

			out, err := json.MarshalIndent(host.DescribeCapabilities(), "", "  ")
			if err != nil {
				return fmt.Errorf("anvil: marshal capabilities: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
