package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvilrun/anvil/internal/profile"
)

// buildProfileCmd creates the "profile" command: it persists a default
// --profile selection under internal/profile's config dir so repeated
// "anvil run" invocations don't need to repeat the flag.
func buildProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect or change the persisted active profile",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known profile configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := profile.ListProfiles()
			if err != nil {
				return fmt.Errorf("anvil: list profiles: %w", err)
			}
			active, _ := profile.ReadActiveProfile()
			for _, name := range names {
				marker := "  "
				if name == active {
					marker = "* "
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", marker, name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "use <name>",
		Short: "Persist the active profile used by future runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.WriteActiveProfile(args[0]); err != nil {
				return fmt.Errorf("anvil: set active profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active profile set to %q\n", args[0])
			return nil
		},
	})

	return cmd
}
