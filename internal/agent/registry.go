package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	contextutil "github.com/anvilrun/anvil/internal/agent/context"
	"github.com/anvilrun/anvil/internal/cache"
	"github.com/anvilrun/anvil/pkg/models"
)

// mcpPrefix is the reserved namespace for MCP-bridged tools (spec §6/§9):
// only a suite flagged ToolSuite.MCPBridge may register tools under it.
const mcpPrefix = "mcp__"

// Observers receives the Tool Registry's execution callbacks. Any nil
// field is simply not invoked.
type Observers struct {
	OnToolStart  func(name, id string, params json.RawMessage)
	OnToolResult func(name, id, result string)
	OnToolError  func(name, id, message string)
	OnCacheHit   func(name, id string)
}

// Registry is the Tool Registry (C2): it owns the set of registered tool
// suites, exposes them to the provider in deterministic registration
// order, and executes calls against them.
type Registry struct {
	mu sync.Mutex

	// order preserves suite registration order; names within a suite
	// preserve the suite's own declaration order. Both together give
	// list_provider_tools() its required determinism, which a bare map
	// iteration cannot.
	suiteOrder []string
	suites     map[string]models.ToolSuite
	toolOwner  map[string]string // tool name -> suite id
	toolOrder  []string          // flattened tool names, registration order

	cache  *cache.ToolCache
	ctxMgr *contextutil.Manager

	Observers Observers
}

// NewRegistry creates an empty Registry.
func NewRegistry(toolCache *cache.ToolCache) *Registry {
	return &Registry{
		suites:    make(map[string]models.ToolSuite),
		toolOwner: make(map[string]string),
		cache:     toolCache,
	}
}

// AttachContextManager wires the Context Manager so tool output is
// truncated per spec §4.3 as part of the execute() pipeline.
func (r *Registry) AttachContextManager(m *contextutil.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxMgr = m
}

// RegisterSuite atomically replaces any existing suite with the same id,
// after checking for tool-name collisions against every other suite.
// Registering a tool named with the reserved mcp__ prefix from a suite
// not flagged MCPBridge is rejected as a DuplicateTool error, resolving
// spec §9's open question about mcp__/local name collisions.
func (r *Registry) RegisterSuite(suite models.ToolSuite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range suite.Tools {
		if !suite.MCPBridge && strings.HasPrefix(t.Name, mcpPrefix) {
			return NewDuplicateToolError(t.Name)
		}
		if owner, ok := r.toolOwner[t.Name]; ok && owner != suite.ID {
			return NewDuplicateToolError(t.Name)
		}
	}

	if _, existed := r.suites[suite.ID]; existed {
		r.removeSuiteLocked(suite.ID)
	} else {
		r.suiteOrder = append(r.suiteOrder, suite.ID)
	}

	r.suites[suite.ID] = suite
	for _, t := range suite.Tools {
		r.toolOwner[t.Name] = suite.ID
		r.toolOrder = append(r.toolOrder, t.Name)
	}
	return nil
}

// UnregisterSuite removes a suite and all of its tools.
func (r *Registry) UnregisterSuite(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSuiteLocked(id)
}

func (r *Registry) removeSuiteLocked(id string) {
	suite, ok := r.suites[id]
	if !ok {
		return
	}
	delete(r.suites, id)
	for i, sid := range r.suiteOrder {
		if sid == id {
			r.suiteOrder = append(r.suiteOrder[:i], r.suiteOrder[i+1:]...)
			break
		}
	}
	for _, t := range suite.Tools {
		delete(r.toolOwner, t.Name)
	}
	filtered := r.toolOrder[:0]
	removed := make(map[string]bool, len(suite.Tools))
	for _, t := range suite.Tools {
		removed[t.Name] = true
	}
	for _, name := range r.toolOrder {
		if !removed[name] {
			filtered = append(filtered, name)
		}
	}
	r.toolOrder = filtered
}

// ListProviderTools returns every registered tool definition in
// registration order, deterministically.
func (r *Registry) ListProviderTools() []models.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ToolDefinition, 0, len(r.toolOrder))
	for _, suiteID := range r.suiteOrder {
		suite := r.suites[suiteID]
		out = append(out, suite.Tools...)
	}
	return out
}

// lookup resolves a tool by name under the lock.
func (r *Registry) lookup(name string) (models.ToolDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	suiteID, ok := r.toolOwner[name]
	if !ok {
		return models.ToolDefinition{}, false
	}
	suite := r.suites[suiteID]
	for _, t := range suite.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return models.ToolDefinition{}, false
}

// ClearCache drops every cached tool result.
func (r *Registry) ClearCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

// Execute runs the spec §4.2 eight-step execution protocol. It never
// returns a Go error for an in-band tool failure: those are encoded into
// the returned string, exactly as the model would see them.
func (r *Registry) Execute(ctx context.Context, call models.ToolCallRequest) string {
	result, _ := r.execute(ctx, call)
	return result
}

// ExecuteTool behaves like Execute but also reports whether the call
// failed, so a caller driving an AgentEvent stream can emit tool.complete
// or tool.error without string-matching the result.
func (r *Registry) ExecuteTool(ctx context.Context, call models.ToolCallRequest) (result string, failed bool) {
	return r.execute(ctx, call)
}

func (r *Registry) execute(ctx context.Context, call models.ToolCallRequest) (result string, failed bool) {
	// Step 1: resolve tool.
	def, ok := r.lookup(call.Name)
	if !ok {
		msg := fmt.Sprintf("Tool %q is not available.", call.Name)
		r.emitError(call.Name, call.ID, msg)
		return msg, true
	}

	cacheable := def.EffectiveCacheable()
	var cacheKey string
	if cacheable && r.cache != nil {
		cacheKey = cache.Key(call.Name, canonicalizeArgs(call.Arguments))
		// Step 2: cache lookup.
		if cached, hit := r.cache.Get(cacheKey); hit {
			if r.Observers.OnCacheHit != nil {
				r.Observers.OnCacheHit(call.Name, call.ID)
			}
			if r.Observers.OnToolResult != nil {
				r.Observers.OnToolResult(call.Name, call.ID, cached)
			}
			return cached, false
		}
	}

	// Step 3: start.
	if r.Observers.OnToolStart != nil {
		r.Observers.OnToolStart(call.Name, call.ID, call.Arguments)
	}

	// Step 4: normalize + validate.
	args, err := normalizeArguments(call.Arguments)
	if err == nil && len(def.Parameters) > 0 {
		err = validateArguments(def.Parameters, args)
	}
	if err != nil {
		msg := fmt.Sprintf("Invalid arguments for %q: %s", call.Name, err.Error())
		r.emitError(call.Name, call.ID, msg)
		return msg, true
	}

	// Step 5: invoke.
	out, err := r.invoke(ctx, def, call, args)
	if err != nil {
		msg := fmt.Sprintf(`Failed to run %q: %s`, call.Name, err.Error())
		r.emitError(call.Name, call.ID, msg)
		return msg, true
	}

	out = SanitizeToolResult(out)

	// Step 6: Context Manager truncation, if attached.
	if r.ctxMgr != nil {
		out = r.ctxMgr.Truncate(call.Name, out)
	}

	// Step 7: cache store.
	if cacheable && r.cache != nil && cacheKey != "" {
		r.cache.Set(cacheKey, out)
	}

	if r.Observers.OnToolResult != nil {
		r.Observers.OnToolResult(call.Name, call.ID, out)
	}
	return out, false
}

// invoke calls the handler, recovering from panics so that step 8 of the
// protocol holds: no exception ever propagates out of Execute.
func (r *Registry) invoke(ctx context.Context, def models.ToolDefinition, call models.ToolCallRequest, args map[string]any) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if def.Handler == nil {
		return "", fmt.Errorf("tool %q has no handler", def.Name)
	}
	out, herr := def.Handler(ctx, call, args)
	if herr != nil {
		return "", herr
	}
	return out, nil
}

func (r *Registry) emitError(name, id, message string) {
	if r.Observers.OnToolError != nil {
		r.Observers.OnToolError(name, id, message)
	}
}

// canonicalizeArgs produces a stable string form of argument JSON for
// cache keying: same shape regardless of original key ordering.
func canonicalizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	sorted := sortKeysDeep(v)
	out, err := json.Marshal(sorted)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func sortKeysDeep(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sortKeysDeep(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sortKeysDeep(val)
		}
		return out
	default:
		return v
	}
}
