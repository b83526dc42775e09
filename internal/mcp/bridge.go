package mcp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/anvilrun/anvil/pkg/models"
)

const maxToolNameLen = 64

// BuildToolSuite adapts every tool exposed by the manager's connected
// servers into a single models.ToolSuite, safe-named under the reserved
// "mcp__" prefix (spec §9's tool-naming open question) and flagged
// MCPBridge so the registry accepts that prefix only from this suite.
func BuildToolSuite(mgr *Manager) models.ToolSuite {
	used := make(map[string]struct{})
	var defs []models.ToolDefinition

	for _, entry := range listToolsSorted(mgr) {
		serverID, tool := entry.serverID, entry.tool
		name := safeToolName(serverID, tool.Name, used)
		handler := func(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
			result, err := mgr.CallTool(ctx, serverID, tool.Name, args)
			if err != nil {
				return "", err
			}
			text, isError := formatToolCallResult(result)
			if isError {
				return "", fmt.Errorf("mcp: server %q reported a tool error: %s", serverID, text)
			}
			return text, nil
		}
		defs = append(defs, models.ToolDefinition{
			Name:        name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
			Handler:     handler,
		})
	}

	for _, serverID := range listServerIDs(mgr) {
		defs = append(defs, resourceAndPromptTools(mgr, serverID, used)...)
	}

	return models.ToolSuite{ID: "mcp", Tools: defs, MCPBridge: true}
}

func resourceAndPromptTools(mgr *Manager, serverID string, used map[string]struct{}) []models.ToolDefinition {
	resListName := safeToolName(serverID, "resources_list", used)
	resReadName := safeToolName(serverID, "resource_read", used)
	promptListName := safeToolName(serverID, "prompts_list", used)
	promptGetName := safeToolName(serverID, "prompt_get", used)

	return []models.ToolDefinition{
		{
			Name:        resListName,
			Description: fmt.Sprintf("List resources exposed by MCP server %q.", serverID),
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: func(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
				payload, err := json.Marshal(mgr.AllResources()[serverID])
				if err != nil {
					return "", err
				}
				return string(payload), nil
			},
		},
		{
			Name:        resReadName,
			Description: fmt.Sprintf("Read a resource from MCP server %q by URI.", serverID),
			Parameters:  json.RawMessage(`{"type":"object","properties":{"uri":{"type":"string"}},"required":["uri"]}`),
			Handler: func(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
				uri, _ := args["uri"].(string)
				contents, err := mgr.ReadResource(ctx, serverID, uri)
				if err != nil {
					return "", err
				}
				text, _ := formatResourceContents(contents)
				return text, nil
			},
		},
		{
			Name:        promptListName,
			Description: fmt.Sprintf("List prompts exposed by MCP server %q.", serverID),
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: func(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
				payload, err := json.Marshal(mgr.AllPrompts()[serverID])
				if err != nil {
					return "", err
				}
				return string(payload), nil
			},
		},
		{
			Name:        promptGetName,
			Description: fmt.Sprintf("Fetch a named prompt from MCP server %q.", serverID),
			Parameters:  json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
			Handler: func(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
				name, _ := args["name"].(string)
				result, err := mgr.GetPrompt(ctx, serverID, name, nil)
				if err != nil {
					return "", err
				}
				text, _ := formatPromptResult(result)
				return text, nil
			},
		},
	}
}

type toolEntry struct {
	serverID string
	tool     *MCPTool
}

func listToolsSorted(mgr *Manager) []toolEntry {
	all := mgr.AllTools()
	serverIDs := make([]string, 0, len(all))
	for id := range all {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	var entries []toolEntry
	for _, serverID := range serverIDs {
		tools := append([]*MCPTool(nil), all[serverID]...)
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		for _, tool := range tools {
			entries = append(entries, toolEntry{serverID: serverID, tool: tool})
		}
	}
	return entries
}

func listServerIDs(mgr *Manager) []string {
	seen := make(map[string]struct{})
	for id := range mgr.AllTools() {
		seen[id] = struct{}{}
	}
	for id := range mgr.AllResources() {
		seen[id] = struct{}{}
	}
	for id := range mgr.AllPrompts() {
		seen[id] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	base := "mcp__" + sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName)
	name := base
	if len(name) > maxToolNameLen {
		name = truncateWithHash(base, serverID, toolName)
	}

	if _, exists := used[name]; exists {
		name = dedupeWithHash(name, serverID, toolName)
	}

	used[name] = struct{}{}
	return name
}

func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	if maxToolNameLen <= len(suffix) {
		return suffix[len(suffix)-maxToolNameLen:]
	}
	trimLen := maxToolNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	name := base + suffix
	if len(name) <= maxToolNameLen {
		return name
	}
	return truncateWithHash(base, serverID, toolName)
}

func formatToolCallResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}

	allText := true
	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}

	if allText && combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}

func formatResourceContents(contents []*ResourceContent) (string, bool) {
	if len(contents) == 0 {
		return "", false
	}
	if len(contents) == 1 && contents[0].Text != "" {
		return contents[0].Text, false
	}
	payload, err := json.Marshal(contents)
	if err != nil {
		return "", false
	}
	return string(payload), false
}

func formatPromptResult(result *GetPromptResult) (string, bool) {
	if result == nil || len(result.Messages) == 0 {
		return "", false
	}
	if len(result.Messages) == 1 && result.Messages[0].Content.Type == "text" {
		return result.Messages[0].Content.Text, false
	}
	payload, err := json.Marshal(result.Messages)
	if err != nil {
		return "", false
	}
	return string(payload), false
}
