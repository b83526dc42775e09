package context

import (
	"fmt"
	"strings"
)

// DefaultMaxOutputChars is the default per-tool-output character budget
// (spec §4.3: "default 8-10k").
const DefaultMaxOutputChars = 9000

// ToolFamily classifies a tool name into one of the truncation strategies
// named in spec §4.3. Matching is by exact name against the small set of
// aliases each family is known by in the wild (the historical tool and the
// snake_case/registry-facing alias).
type ToolFamily int

const (
	FamilyDefault ToolFamily = iota
	FamilyFileRead
	FamilySearch
	FamilyShell
)

var familyByToolName = map[string]ToolFamily{
	"Read": FamilyFileRead, "read_file": FamilyFileRead,
	"Grep": FamilySearch, "grep_search": FamilySearch,
	"Glob": FamilySearch, "glob_search": FamilySearch,
	"Bash": FamilyShell, "bash": FamilyShell, "execute_bash": FamilyShell,
}

// ClassifyTool resolves the truncation family for a tool name.
func ClassifyTool(name string) ToolFamily {
	if f, ok := familyByToolName[name]; ok {
		return f
	}
	return FamilyDefault
}

// Truncate applies the tool-family truncation policy to output, bounding it
// to roughly maxChars while preserving a machine-parseable marker recording
// how much was removed. If maxChars <= 0, DefaultMaxOutputChars is used.
func Truncate(toolName, output string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxOutputChars
	}
	if len(output) <= maxChars {
		return output
	}

	switch ClassifyTool(toolName) {
	case FamilyFileRead:
		return truncateLinesHeadTail(output, maxChars)
	case FamilySearch:
		return truncateLinesLeading(output, maxChars)
	case FamilyShell:
		return truncateTailWeighted(output, maxChars)
	default:
		return truncatePrefix(output, maxChars)
	}
}

// truncateLinesHeadTail implements the Read/read_file strategy: if the
// output has more than 100 lines, keep a head and tail portion sized to the
// character budget, with a marker stating the removed line count. The
// marker's count plus head+tail line counts equals the original line count
// (spec §8 testable property).
func truncateLinesHeadTail(output string, maxChars int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= 100 {
		return truncatePrefix(output, maxChars)
	}

	// Split the character budget between head and tail, reserving room
	// for the marker line itself.
	budget := maxChars - 64
	if budget < 0 {
		budget = maxChars
	}
	headBudget := budget / 2
	tailBudget := budget - headBudget

	headLines, headChars := takeLines(lines, headBudget, false)
	tailLines, tailChars := takeLines(lines, tailBudget, true)

	// Never let head and tail overlap.
	if headChars+tailChars >= len(lines) {
		split := len(lines) / 2
		headLines = lines[:split]
		tailLines = lines[split:]
	}

	removed := len(lines) - len(headLines) - len(tailLines)
	if removed <= 0 {
		return output
	}

	marker := fmt.Sprintf("[… %d lines truncated …]", removed)
	out := make([]string, 0, len(headLines)+1+len(tailLines))
	out = append(out, headLines...)
	out = append(out, marker)
	out = append(out, tailLines...)
	return strings.Join(out, "\n")
}

// takeLines greedily takes lines (from the front, or from the back when
// fromEnd is true) until the character budget would be exceeded. It
// returns the selected lines (in original order) and how many lines were
// selected.
func takeLines(lines []string, budget int, fromEnd bool) ([]string, int) {
	if budget <= 0 {
		return nil, 0
	}
	used := 0
	n := 0
	if !fromEnd {
		for _, l := range lines {
			used += len(l) + 1
			if used > budget {
				break
			}
			n++
		}
		return lines[:n], n
	}
	for i := len(lines) - 1; i >= 0; i-- {
		used += len(lines[i]) + 1
		if used > budget {
			break
		}
		n++
	}
	return lines[len(lines)-n:], n
}

// truncateLinesLeading implements the Grep/Glob strategy: keep leading
// lines up to the budget, append a result-count marker.
func truncateLinesLeading(output string, maxChars int) string {
	lines := strings.Split(output, "\n")
	budget := maxChars - 48
	if budget < 0 {
		budget = maxChars
	}
	kept, n := takeLines(lines, budget, false)
	removed := len(lines) - n
	if removed <= 0 {
		return output
	}
	marker := fmt.Sprintf("[… %d more results truncated …]", removed)
	return strings.Join(kept, "\n") + "\n" + marker
}

// truncateTailWeighted implements the Bash family strategy: keep roughly
// 80% of the budget from the tail (errors/final status usually land at the
// end), a small prefix, and a marker in the middle recording removed
// character count.
func truncateTailWeighted(output string, maxChars int) string {
	tailBudget := maxChars * 80 / 100
	prefixBudget := maxChars - tailBudget
	if prefixBudget < 0 {
		prefixBudget = 0
	}

	if prefixBudget >= len(output) {
		prefixBudget = len(output)
	}
	prefix := output[:prefixBudget]

	tailStart := len(output) - tailBudget
	if tailStart < prefixBudget {
		tailStart = prefixBudget
	}
	tail := output[tailStart:]

	removedChars := tailStart - prefixBudget
	if removedChars <= 0 {
		return output
	}
	marker := fmt.Sprintf("\n[… %d characters truncated …]\n", removedChars)
	return prefix + marker + tail
}

// truncatePrefix implements the default strategy: keep a prefix, append a
// marker recording removed character count.
func truncatePrefix(output string, maxChars int) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	return output[:maxChars] + fmt.Sprintf("\n[… %d characters truncated …]", removed)
}
