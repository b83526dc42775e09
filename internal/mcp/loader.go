package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads an MCP server list from path. A ".json"/".json5"
// extension is parsed with the JSON5 decoder, tolerant of comments and
// trailing commas (common in hand-edited MCP config); any other extension
// is parsed as YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config %s: %w", path, err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".json5" {
		if err := json5.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("mcp: parse config %s as json5: %w", path, err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mcp: parse config %s as yaml: %w", path, err)
	}
	return &cfg, nil
}
