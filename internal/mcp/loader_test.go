package mcp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	const doc = `
enabled: true
servers:
  - id: github
    name: GitHub
    transport: stdio
    command: github-mcp-server
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled || len(cfg.Servers) != 1 || cfg.Servers[0].ID != "github" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigParsesJSON5WithCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json5")
	const doc = `{
  // hand-edited MCP config
  enabled: true,
  servers: [
    { id: "github", name: "GitHub", transport: "stdio", command: "github-mcp-server", },
  ],
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled || len(cfg.Servers) != 1 || cfg.Servers[0].ID != "github" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
