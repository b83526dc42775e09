package context

import (
	"fmt"

	"github.com/anvilrun/anvil/pkg/models"
)

// PruneSettings configures the history pruning algorithm (spec §4.3).
type PruneSettings struct {
	// PreserveRecentMessages is a count of user turns (not raw messages)
	// to keep in full from the tail.
	PreserveRecentMessages int
}

// DefaultPruneSettings mirrors the teacher's default of keeping a handful
// of recent user turns whole.
func DefaultPruneSettings() PruneSettings {
	return PruneSettings{PreserveRecentMessages: 4}
}

// Prune implements the §4.3 history pruning algorithm:
//  0. No-op unless the conversation is approaching its token budget
//     (isApproachingLimit); this is what makes pruning idempotent below
//     the threshold.
//  1. Preserve the first system message verbatim.
//  2. Walk from the tail, collecting messages until PreserveRecentMessages
//     user turns have been counted (a user turn = the user message plus its
//     following assistant/tool messages).
//  3. If anything earlier was dropped, insert a synthetic system summary
//     message immediately after the original system message.
//
// Prune is idempotent: when the conversation does not need pruning, it
// returns the input unchanged with removed == 0.
func Prune(messages []models.ConversationMessage, settings PruneSettings, budget Budget) (pruned []models.ConversationMessage, removed int) {
	if len(messages) == 0 || !IsApproachingLimit(messages, budget) {
		return messages, 0
	}

	startIdx := 0
	var systemMsg *models.ConversationMessage
	if messages[0].IsSystem() {
		m := messages[0]
		systemMsg = &m
		startIdx = 1
	}

	cutoff := findTailCutoff(messages, startIdx, settings.PreserveRecentMessages)

	if cutoff <= startIdx {
		// Nothing would be dropped; pruning is a no-op.
		return messages, 0
	}

	removed = cutoff - startIdx
	kept := messages[cutoff:]

	result := make([]models.ConversationMessage, 0, len(kept)+2)
	if systemMsg != nil {
		result = append(result, *systemMsg)
	}
	result = append(result, models.NewSystemMessage(fmt.Sprintf(
		"[Context Manager: Removed %d old messages to stay within the context budget.]", removed)))
	result = append(result, kept...)

	return result, removed
}

// findTailCutoff walks backward from the end of messages[from:], counting
// user turns, and returns the index at which PreserveRecentMessages full
// user turns begin. A "user turn" starts at a user message and includes
// every following non-user message up to (not including) the next user
// message.
func findTailCutoff(messages []models.ConversationMessage, from, preserveRecentMessages int) int {
	if preserveRecentMessages <= 0 {
		return len(messages)
	}

	userTurns := 0
	cutoff := len(messages)
	for i := len(messages) - 1; i >= from; i-- {
		if messages[i].IsUser() {
			userTurns++
			cutoff = i
			if userTurns >= preserveRecentMessages {
				break
			}
		}
	}
	if userTurns < preserveRecentMessages {
		// Fewer user turns exist than requested; nothing to prune.
		return from
	}
	return cutoff
}

// IsApproachingLimit reports whether history should be pruned before the
// next provider call.
func IsApproachingLimit(messages []models.ConversationMessage, budget Budget) bool {
	return ComputeStats(messages, budget).IsApproachingLimit
}
