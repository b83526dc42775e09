// Package capability implements the Capability Host: the registry of
// capability modules that contribute tool suites to the agent core.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/anvilrun/anvil/pkg/models"
)

// Contribution is what a Module hands back to the host: one or more tool
// suites, optional metadata for the manifest, and an optional dispose hook
// run best-effort at shutdown.
type Contribution struct {
	ID         string
	ToolSuite  *models.ToolSuite
	ToolSuites []models.ToolSuite
	Metadata   map[string]any
	Dispose    func(ctx context.Context)
}

// suites returns every tool suite this contribution carries, whether
// supplied as ToolSuite or ToolSuites.
func (c Contribution) suites() []models.ToolSuite {
	out := make([]models.ToolSuite, 0, len(c.ToolSuites)+1)
	if c.ToolSuite != nil {
		out = append(out, *c.ToolSuite)
	}
	out = append(out, c.ToolSuites...)
	return out
}

// Module is a capability provider: given a context record, it produces
// zero, one, or many Contributions.
type Module interface {
	ID() string
	Create(ctx ModuleContext) ([]Contribution, error)
}

// ModuleContext is the context record passed to every module's Create
// call: a plain value, not an interface, to keep modules free of back-
// references into the host.
type ModuleContext struct {
	Profile      string
	WorkingDir   string
	Env          map[string]string
	GetSecret    func(name string) (string, bool)
	WorkspaceCtx map[string]any
}

// ErrSessionFrozen is returned by RegisterModule once the host has already
// built its first session: module registration is only permitted before
// that point.
type ErrSessionFrozen struct{ ModuleID string }

func (e *ErrSessionFrozen) Error() string {
	return fmt.Sprintf("capability host is frozen: cannot register module %q after first session build", e.ModuleID)
}

// ErrDuplicateSuite is returned when two modules contribute a tool suite
// or contribution under the same id.
type ErrDuplicateSuite struct{ ID string }

func (e *ErrDuplicateSuite) Error() string {
	return fmt.Sprintf("duplicate capability contribution or tool suite id: %q", e.ID)
}

// ManifestEntry describes one published contribution, as returned by
// DescribeCapabilities.
type ManifestEntry struct {
	ContributionID string         `json:"contribution_id"`
	ModuleID       string         `json:"module_id"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type boundContribution struct {
	moduleID     string
	contribution Contribution
}

// Host binds capability modules in registration order and builds the tool
// suites the Tool Registry will serve.
type Host struct {
	mu      sync.Mutex
	modules []Module
	frozen  bool

	bound        []boundContribution
	seenIDs      map[string]bool
	seenSuiteIDs map[string]bool
}

// New creates an empty, unfrozen Host.
func New() *Host {
	return &Host{
		seenIDs:      make(map[string]bool),
		seenSuiteIDs: make(map[string]bool),
	}
}

// RegisterModule adds a module to the host. Only permitted before the
// first call to Build.
func (h *Host) RegisterModule(m Module) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen {
		return &ErrSessionFrozen{ModuleID: m.ID()}
	}
	h.modules = append(h.modules, m)
	return nil
}

// Build invokes Create on every registered module, in registration order,
// deduplicating contribution ids and tool-suite ids across all modules.
// The first call freezes the host against further RegisterModule calls;
// subsequent Build calls rebuild from the same module set (used by the
// sub-agent runner, which needs a fresh bind per child).
func (h *Host) Build(ctx ModuleContext) ([]models.ToolSuite, error) {
	h.mu.Lock()
	h.frozen = true
	modules := make([]Module, len(h.modules))
	copy(modules, h.modules)
	h.mu.Unlock()

	bound := make([]boundContribution, 0)
	seenIDs := make(map[string]bool)
	seenSuiteIDs := make(map[string]bool)
	var suites []models.ToolSuite

	for _, m := range modules {
		contributions, err := m.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("capability module %q: %w", m.ID(), err)
		}
		for _, c := range contributions {
			if c.ID != "" {
				if seenIDs[c.ID] {
					return nil, &ErrDuplicateSuite{ID: c.ID}
				}
				seenIDs[c.ID] = true
			}
			for _, suite := range c.suites() {
				if seenSuiteIDs[suite.ID] {
					return nil, &ErrDuplicateSuite{ID: suite.ID}
				}
				seenSuiteIDs[suite.ID] = true
				suites = append(suites, suite)
			}
			bound = append(bound, boundContribution{moduleID: m.ID(), contribution: c})
		}
	}

	h.mu.Lock()
	h.bound = bound
	h.seenIDs = seenIDs
	h.seenSuiteIDs = seenSuiteIDs
	h.mu.Unlock()

	return suites, nil
}

// DescribeCapabilities publishes the manifest of everything the last
// Build bound, in binding order.
func (h *Host) DescribeCapabilities() []ManifestEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]ManifestEntry, 0, len(h.bound))
	for _, b := range h.bound {
		desc, _ := b.contribution.Metadata["description"].(string)
		entries = append(entries, ManifestEntry{
			ContributionID: b.contribution.ID,
			ModuleID:       b.moduleID,
			Description:    desc,
			Metadata:       b.contribution.Metadata,
		})
	}
	return entries
}

// Shutdown invokes every bound contribution's dispose hook, best-effort:
// a panic or the hook simply not existing never blocks the others.
func (h *Host) Shutdown(ctx context.Context) {
	h.mu.Lock()
	bound := make([]boundContribution, len(h.bound))
	copy(bound, h.bound)
	h.mu.Unlock()

	for _, b := range bound {
		disposeOne(ctx, b.contribution)
	}
}

func disposeOne(ctx context.Context, c Contribution) {
	defer func() { recover() }()
	if c.Dispose != nil {
		c.Dispose(ctx)
	}
}

// ModuleIDs returns the registered module ids in registration order, for
// diagnostics.
func (h *Host) ModuleIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, len(h.modules))
	for i, m := range h.modules {
		ids[i] = m.ID()
	}
	return ids
}
