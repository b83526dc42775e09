package modelselect

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
default:
  provider: anthropic
  model: claude-sonnet-4-20250514
  max_tokens: 4096
  system_prompt_template: "you are a helpful agent"
  rulebook: core
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestResolveUsesProfileDefaultWithNoOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	catalog, err := LoadCatalog(writeCatalog(t, dir))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	selection, err := Resolve(catalog, "default", Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if selection.Provider != "anthropic" || selection.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected selection: %#v", selection)
	}
}

func TestResolveUnknownProfileErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	catalog, _ := LoadCatalog(writeCatalog(t, dir))
	if _, err := Resolve(catalog, "missing", Overrides{}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestResolvePersistedPreferenceOverridesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	catalog, _ := LoadCatalog(writeCatalog(t, dir))

	if err := WritePreference("openai", "gpt-4o"); err != nil {
		t.Fatalf("WritePreference: %v", err)
	}

	selection, err := Resolve(catalog, "default", Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if selection.Provider != "openai" || selection.Model != "gpt-4o" {
		t.Fatalf("expected persisted preference to win, got %#v", selection)
	}
}

func TestResolveEnvOverrideLocksOutPersistedPreference(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	catalog, _ := LoadCatalog(writeCatalog(t, dir))

	if err := WritePreference("openai", "gpt-4o"); err != nil {
		t.Fatalf("WritePreference: %v", err)
	}
	t.Setenv(envProvider, "google")

	selection, err := Resolve(catalog, "default", Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if selection.Provider != "google" {
		t.Fatalf("expected env provider to win, got %#v", selection)
	}
	if selection.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("expected persisted model to be locked out in favor of the profile default, got %#v", selection)
	}
}

func TestResolveCLIOverrideWinsOverEverything(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	catalog, _ := LoadCatalog(writeCatalog(t, dir))

	if err := WritePreference("openai", "gpt-4o"); err != nil {
		t.Fatalf("WritePreference: %v", err)
	}
	t.Setenv(envProvider, "google")
	t.Setenv(envModel, "gemini-2.0-flash")

	selection, err := Resolve(catalog, "default", Overrides{Provider: "bedrock", Model: "amazon.titan-text-express-v1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if selection.Provider != "bedrock" || selection.Model != "amazon.titan-text-express-v1" {
		t.Fatalf("expected CLI override to win, got %#v", selection)
	}
}

func TestReadPreferenceMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	provider, model, err := ReadPreference()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "" || model != "" {
		t.Fatalf("expected empty preference, got %q/%q", provider, model)
	}
}
