package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/agent/providers"
	"github.com/anvilrun/anvil/internal/modelselect"
)

// modelLister is implemented by every concrete provider adapter; it is not
// part of agent.Provider since a failover chain has no single model list.
type modelLister interface {
	Models() []agent.Model
}

func buildModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and select the provider/model pair",
	}
	cmd.AddCommand(buildModelsListCmd(), buildModelsShowCmd(), buildModelsSetCmd())
	return cmd
}

func buildModelsListCmd() *cobra.Command {
	var providerName string
	var live bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the models a provider supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if providerName == "" {
				providerName = defaultAvailableProvider()
			}
			provider, err := buildProvider(providerName)
			if err != nil {
				return err
			}

			if live {
				bp, ok := provider.(*providers.BedrockProvider)
				if !ok {
					return fmt.Errorf("anvil: --live model discovery is only implemented for the bedrock provider")
				}
				discovered, err := bp.DiscoverModels(cmd.Context())
				if err != nil {
					return fmt.Errorf("anvil: discover bedrock models: %w", err)
				}
				out, err := json.MarshalIndent(discovered, "", "  ")
				if err != nil {
					return fmt.Errorf("anvil: marshal models: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			lister, ok := provider.(modelLister)
			if !ok {
				return fmt.Errorf("anvil: provider %q does not publish a model list", providerName)
			}
			out, err := json.MarshalIndent(lister.Models(), "", "  ")
			if err != nil {
				return fmt.Errorf("anvil: marshal models: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "Provider id (defaults to whichever credential env var is set)")
	cmd.Flags().BoolVar(&live, "live", false, "Query the provider's API for live model availability instead of the static catalog (bedrock only)")
	return cmd
}

func buildModelsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved provider/model selection for the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := resolveProfileName()
			catalog := loadOrDefaultCatalog()
			selection, err := modelselect.Resolve(catalog, profile, modelselect.Overrides{})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(selection, "", "  ")
			if err != nil {
				return fmt.Errorf("anvil: marshal selection: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func buildModelsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <provider> <model>",
		Short: "Persist a provider/model preference for future runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := modelselect.WritePreference(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preference saved: %s/%s\n", args[0], args[1])
			return nil
		},
	}
	return cmd
}
