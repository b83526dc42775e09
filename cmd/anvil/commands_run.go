package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anvilrun/anvil/internal/agent"
	contextutil "github.com/anvilrun/anvil/internal/agent/context"
	"github.com/anvilrun/anvil/internal/agent/providers"
	"github.com/anvilrun/anvil/internal/cache"
	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/internal/headless"
	"github.com/anvilrun/anvil/internal/mcp"
	"github.com/anvilrun/anvil/internal/modelselect"
	"github.com/anvilrun/anvil/internal/observability"
	"github.com/anvilrun/anvil/internal/profile"
	"github.com/anvilrun/anvil/internal/tools"
)

// buildRunCmd creates the "run" command: the headless driver entry
// point. Trailing positional args are joined with spaces to form the
// initial prompt.
func buildRunCmd() *cobra.Command {
	var (
		sessionID string
		noStdin   bool
		jsonFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run the headless JSON-protocol driver",
		Example: `  # One-shot prompt, no stdin
  anvil run --no-stdin "summarize this repository"

  # Interactive: read further prompts from stdin
  anvil run "hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.New().String()
			}
			profile := resolveProfileName()
			initialPrompt := strings.Join(args, " ")

			driver, err := buildDriver(profile, sessionID, initialPrompt, noStdin)
			if err != nil {
				return err
			}
			os.Exit(driver.Run(cmd.Context()))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id (generated if omitted)")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "Do not read further prompts from stdin after the initial prompt")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Reserved; accepted and ignored")

	return cmd
}

// resolveProfileName applies the --profile flag then ANVIL_PROFILE, then
// the persisted active profile (see "anvil profile use"), then falls back
// to "default".
func resolveProfileName() string {
	if strings.TrimSpace(profileName) != "" {
		return profileName
	}
	if env := strings.TrimSpace(os.Getenv("ANVIL_PROFILE")); env != "" {
		return env
	}
	if active, err := profile.ReadActiveProfile(); err == nil && active != "" {
		return active
	}
	return "default"
}

func loadOrDefaultCatalog() modelselect.Catalog {
	if catalog, err := modelselect.LoadCatalog(modelselect.CatalogPath()); err == nil {
		return catalog
	}
	return modelselect.Catalog{
		"default": {Provider: defaultAvailableProvider(), MaxTokens: 4096},
	}
}

// defaultAvailableProvider picks a provider id from whichever credential
// env var is set, preferring Anthropic, for a catalog-less first run.
func defaultAvailableProvider() string {
	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return "anthropic"
	case os.Getenv("OPENAI_API_KEY") != "":
		return "openai"
	case os.Getenv("GEMINI_API_KEY") != "":
		return "google"
	default:
		return "anthropic"
	}
}

// buildProvider constructs the concrete provider adapter named by id,
// reading credentials from the brand-prefixed provider env vars.
func buildProvider(id string) (agent.Provider, error) {
	switch id {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		})
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY")), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("anvil: unknown provider %q", id)
	}
}

func buildDriver(profile, sessionID, initialPrompt string, noStdin bool) (*headless.Driver, error) {
	catalog := loadOrDefaultCatalog()
	selection, err := modelselect.Resolve(catalog, profile, modelselect.Overrides{})
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(selection.Provider)
	if err != nil {
		return nil, err
	}

	metrics, tracer := buildObservability()
	provider = observability.Instrument(provider, metrics, tracer)

	workingDir, _ := os.Getwd()

	registry, err := buildRegistry(workingDir, metrics, tracer)
	if err != nil {
		return nil, err
	}
	loop := agent.NewLoop(provider, registry, contextutil.NewManager(200000), agent.LoopConfig{
		Model:        selection.Model,
		SystemPrompt: selection.SystemPromptTemplate,
		Stream:       true,
	})

	return &headless.Driver{
		Loop:          loop,
		SessionID:     sessionID,
		Profile:       profile,
		Version:       version,
		WorkingDir:    workingDir,
		InitialPrompt: initialPrompt,
		NoStdin:       noStdin,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
	}, nil
}

// buildObservability constructs the Metrics/Tracer pair used to
// instrument the provider and tool registry for a run. Tracing stays a
// no-op exporter unless ANVIL_OTLP_ENDPOINT is set.
func buildObservability() (*observability.Metrics, *observability.Tracer) {
	metrics := observability.NewMetrics()
	tracer, _ := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "anvil",
		ServiceVersion: version,
		Endpoint:       os.Getenv("ANVIL_OTLP_ENDPOINT"),
	})
	return metrics, tracer
}

// buildRegistry binds the built-in seed tools and, when ANVIL_MCP_CONFIG
// names a readable server list, the MCP bridge suite. metrics/tracer wire
// the registry's Observers for per-tool-call instrumentation.
func buildRegistry(workingDir string, metrics *observability.Metrics, tracer *observability.Tracer) (*agent.Registry, error) {
	host := capability.New()
	if err := host.RegisterModule(tools.Module{}); err != nil {
		return nil, err
	}

	suites, err := host.Build(capability.ModuleContext{WorkingDir: workingDir})
	if err != nil {
		return nil, err
	}

	registry := agent.NewRegistry(cache.New(cache.Options{}))
	registry.Observers = observability.NewToolObservers(context.Background(), metrics, tracer)
	for _, suite := range suites {
		if err := registry.RegisterSuite(suite); err != nil {
			return nil, err
		}
	}

	if mcpPath := os.Getenv("ANVIL_MCP_CONFIG"); mcpPath != "" {
		mcpCfg, err := mcp.LoadConfig(mcpPath)
		if err != nil {
			return nil, err
		}
		mgr := mcp.NewManager(mcpCfg, nil)
		if err := mgr.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("anvil: start MCP servers: %w", err)
		}
		if err := registry.RegisterSuite(mcp.BuildToolSuite(mgr)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
