package context

import "github.com/anvilrun/anvil/pkg/models"

// Manager bundles the token budget, pruning settings, and truncation
// limits into the single object the Agent Loop and Tool Registry share
// for the Context Manager's responsibilities.
type Manager struct {
	Budget         Budget
	PruneSettings  PruneSettings
	MaxOutputChars int
}

// NewManager builds a Manager for the given model context window,
// applying the spec's adaptive budget formulas and default prune/
// truncation settings.
func NewManager(contextWindow int) *Manager {
	return &Manager{
		Budget:         ResolveBudget(contextWindow),
		PruneSettings:  DefaultPruneSettings(),
		MaxOutputChars: DefaultMaxOutputChars,
	}
}

// Truncate applies the per-tool-family truncation policy to a tool's
// output.
func (m *Manager) Truncate(toolName, output string) string {
	return Truncate(toolName, output, m.MaxOutputChars)
}

// Stats computes the current context statistics for a conversation.
func (m *Manager) Stats(messages []models.ConversationMessage) Stats {
	return ComputeStats(messages, m.Budget)
}

// PruneIfNeeded prunes messages if the conversation is approaching its
// token budget, a no-op (with removed == 0) otherwise.
func (m *Manager) PruneIfNeeded(messages []models.ConversationMessage) ([]models.ConversationMessage, int) {
	return Prune(messages, m.PruneSettings, m.Budget)
}
