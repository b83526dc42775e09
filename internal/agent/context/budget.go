// Package context implements the Context Manager: per-model token budgeting,
// tool-output truncation, and history pruning.
package context

import (
	"encoding/json"
	"math"

	"github.com/anvilrun/anvil/pkg/models"
)

// CharsPerToken is the conservative chars-per-token ratio used to estimate
// token counts from already-decoded text, tuned for code-heavy content.
const CharsPerToken = 3

// Fallback constants used when the active model's context window is
// unknown.
const (
	FallbackMaxTokens    = 130000
	FallbackTargetTokens = 100000
)

// maxTokensRatio and targetTokensRatio implement the adaptive formulas:
// maxTokens = floor(contextWindow * 0.97), targetTokens = floor(maxTokens * 0.75).
const (
	maxTokensRatio    = 0.97
	targetTokensRatio = 0.75
)

// Budget holds the resolved token ceilings for one model.
type Budget struct {
	MaxTokens    int
	TargetTokens int
}

// ResolveBudget derives the Budget for a model's context window. A
// contextWindow <= 0 (unknown model) falls back to the documented
// constants.
func ResolveBudget(contextWindow int) Budget {
	if contextWindow <= 0 {
		return Budget{MaxTokens: FallbackMaxTokens, TargetTokens: FallbackTargetTokens}
	}
	maxTokens := int(math.Floor(float64(contextWindow) * maxTokensRatio))
	targetTokens := int(math.Floor(float64(maxTokens) * targetTokensRatio))
	return Budget{MaxTokens: maxTokens, TargetTokens: targetTokens}
}

// EstimateMessageTokens estimates one message's token footprint: its
// content length plus, for assistant tool calls, len(name)+len(canonical
// json(args)) per call (spec §4.3).
func EstimateMessageTokens(m models.ConversationMessage) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(canonicalJSON(tc.Arguments))
	}
	return int(math.Ceil(float64(chars) / CharsPerToken))
}

// EstimateTotalTokens sums EstimateMessageTokens across a conversation.
func EstimateTotalTokens(messages []models.ConversationMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}
	return total
}

// Stats is the derived, never-persisted ContextStats entity from spec §3.
type Stats struct {
	TotalTokens        int
	Percentage         float64
	IsApproachingLimit bool
	IsOverLimit        bool
}

// ComputeStats derives ContextStats for a conversation against a budget.
// "Approaching" is defined as crossing TargetTokens, matching the pruning
// trigger in §4.3 ("isApproachingLimit → prune history").
func ComputeStats(messages []models.ConversationMessage, budget Budget) Stats {
	total := EstimateTotalTokens(messages)
	pct := 0.0
	if budget.MaxTokens > 0 {
		pct = float64(total) / float64(budget.MaxTokens)
	}
	return Stats{
		TotalTokens:        total,
		Percentage:         pct,
		IsApproachingLimit: total >= budget.TargetTokens,
		IsOverLimit:        total >= budget.MaxTokens,
	}
}

// canonicalJSON re-marshals a JSON value with sorted object keys so that
// equivalent argument trees produce identical bytes regardless of key
// order. Falls back to the raw bytes if the value fails to parse.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(sortKeys(v))
	if err != nil {
		return raw
	}
	return out
}

// sortKeys recursively normalizes map key order isn't directly controllable
// through encoding/json (maps always marshal with sorted string keys
// already), but nested arrays of maps need the same treatment applied
// element-wise; this walks the decoded value so Marshal's own key-sorting
// takes effect uniformly at every level.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sortKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sortKeys(val)
		}
		return out
	default:
		return v
	}
}
