package mcp

import (
	"strings"
	"testing"
)

func TestSafeToolNameSanitizes(t *testing.T) {
	used := make(map[string]struct{})
	name := safeToolName("git-hub", "search/repo", used)
	if name != "mcp__git_hub_search_repo" {
		t.Fatalf("expected sanitized name, got %q", name)
	}
}

func TestSafeToolNameDeduplicates(t *testing.T) {
	used := make(map[string]struct{})
	first := safeToolName("foo-bar", "baz", used)
	second := safeToolName("foo_bar", "baz", used)

	if first == second {
		t.Fatalf("expected unique name for duplicate tool, got %q", second)
	}
	if !strings.HasPrefix(second, first+"_") {
		t.Fatalf("expected duplicate name to include hash suffix, got %q", second)
	}
}

func TestSafeToolNameTruncates(t *testing.T) {
	used := make(map[string]struct{})
	serverID := strings.Repeat("server", 10)
	toolName := strings.Repeat("tool", 10)
	name := safeToolName(serverID, toolName, used)

	if len(name) > maxToolNameLen {
		t.Fatalf("expected name length <= %d, got %d (%q)", maxToolNameLen, len(name), name)
	}
	if !strings.HasSuffix(name, toolNameHash(serverID, toolName)) {
		t.Fatalf("expected truncated name to include hash suffix, got %q", name)
	}
}

func TestBuildToolSuiteOnEmptyManagerIsStillFlaggedAsBridge(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)
	suite := BuildToolSuite(mgr)

	if !suite.MCPBridge {
		t.Fatal("expected MCPBridge flag to be set")
	}
	if suite.ID != "mcp" {
		t.Fatalf("expected suite id %q, got %q", "mcp", suite.ID)
	}
	if len(suite.Tools) != 0 {
		t.Fatalf("expected no tools from a manager with no connected servers, got %d", len(suite.Tools))
	}
}

func TestBuildToolSuiteNamesEveryToolUnderTheReservedPrefix(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, nil)
	mgr.clients["demo"] = &Client{
		config: &ServerConfig{ID: "demo"},
		tools: []*MCPTool{
			{Name: "search", Description: "search the index"},
		},
	}

	suite := BuildToolSuite(mgr)
	if len(suite.Tools) == 0 {
		t.Fatal("expected at least the search tool")
	}
	for _, def := range suite.Tools {
		if !strings.HasPrefix(def.Name, "mcp__") {
			t.Fatalf("expected tool name to carry the reserved prefix, got %q", def.Name)
		}
	}
}
