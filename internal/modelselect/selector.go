// Package modelselect resolves the active provider/model selection for a
// run from four layers, highest priority first: a CLI-supplied override, a
// brand-prefixed environment override, a persisted preference, and the
// active profile's default.
package modelselect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envProvider = "ANVIL_PROVIDER"
	envModel    = "ANVIL_MODEL"
)

// ProfileBundle is one named profile from the catalog: a provider/model
// default plus the prompt material that travels with it.
type ProfileBundle struct {
	Provider             string   `yaml:"provider"`
	Model                string   `yaml:"model"`
	Temperature          *float64 `yaml:"temperature"`
	MaxTokens            int      `yaml:"max_tokens"`
	SystemPromptTemplate string   `yaml:"system_prompt_template"`
	Rulebook             string   `yaml:"rulebook"`
}

// Catalog maps profile name to bundle, loaded from a single YAML document.
type Catalog map[string]ProfileBundle

// LoadCatalog reads a profile catalog from path.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelselect: read catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("modelselect: parse catalog: %w", err)
	}
	return catalog, nil
}

// ModelSelection is the fully resolved outcome: the provider/model pair the
// Agent Loop will use, plus the prompt material carried by the winning
// profile bundle.
type ModelSelection struct {
	Provider             string
	Model                string
	Temperature          *float64
	MaxTokens            int
	SystemPromptTemplate string
	Rulebook             string
}

// Overrides carries a CLI-supplied provider/model pair. Empty fields are
// treated as "not specified".
type Overrides struct {
	Provider string
	Model    string
}

// CatalogPath returns the default profile catalog path, following the
// profile package's config-directory convention.
func CatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".anvil", "profiles.yaml")
}

// preferenceFile returns the path to the persisted provider/model
// preference, following the profile package's active-profile-marker
// convention: a single small file under the user's config directory.
func preferenceFile() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".anvil", "model_preference")
}

// persistedPreference is the provider/model pair last chosen interactively
// and written back via WritePreference.
type persistedPreference struct {
	Provider string
	Model    string
}

// ReadPreference loads the persisted provider/model preference. A missing
// file is not an error; it reports a zero-value preference.
func ReadPreference() (provider, model string, err error) {
	data, err := os.ReadFile(preferenceFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("modelselect: read preference: %w", err)
	}
	line := strings.TrimSpace(string(data))
	provider, model, _ = strings.Cut(line, "/")
	return provider, model, nil
}

// WritePreference persists a provider/model pair as the user's preference
// for future resolutions.
func WritePreference(provider, model string) error {
	path := preferenceFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("modelselect: write preference: %w", err)
	}
	content := fmt.Sprintf("%s/%s\n", provider, model)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("modelselect: write preference: %w", err)
	}
	return nil
}

// Resolve applies the four-layer priority chain to produce a
// ModelSelection for the named profile. An env override of either provider
// or model locks out the persisted preference entirely, so a stale
// preference can't silently mix with an operator-forced provider.
func Resolve(catalog Catalog, profileName string, cli Overrides) (ModelSelection, error) {
	bundle, ok := catalog[profileName]
	if !ok {
		return ModelSelection{}, fmt.Errorf("modelselect: unknown profile %q", profileName)
	}

	selection := ModelSelection{
		Provider:             bundle.Provider,
		Model:                bundle.Model,
		Temperature:          bundle.Temperature,
		MaxTokens:            bundle.MaxTokens,
		SystemPromptTemplate: bundle.SystemPromptTemplate,
		Rulebook:             bundle.Rulebook,
	}

	envProviderVal, envProviderSet := os.LookupEnv(envProvider)
	envModelVal, envModelSet := os.LookupEnv(envModel)
	envLocked := envProviderSet || envModelSet

	if !envLocked {
		provider, model, err := ReadPreference()
		if err != nil {
			return ModelSelection{}, err
		}
		if provider != "" {
			selection.Provider = provider
		}
		if model != "" {
			selection.Model = model
		}
	}

	if envProviderSet && strings.TrimSpace(envProviderVal) != "" {
		selection.Provider = envProviderVal
	}
	if envModelSet && strings.TrimSpace(envModelVal) != "" {
		selection.Model = envModelVal
	}

	if cli.Provider != "" {
		selection.Provider = cli.Provider
	}
	if cli.Model != "" {
		selection.Model = cli.Model
	}

	if selection.Provider == "" || selection.Model == "" {
		return ModelSelection{}, fmt.Errorf("modelselect: profile %q resolved without a provider/model pair", profileName)
	}

	return selection, nil
}
